// Package push contains the gateway clients used to deliver notifications
// upstream: the APNs binary gateway (aps), Google's legacy C2DM HTTPS sender
// (c2dm) and its GCM successor (gcm).
//
// Each client reports tokens the upstream has declared undeliverable through
// an IdentityRemovedFunc; consumers should remove those devices from their
// records to stop further sends.
package push

// IdentityRemovedFunc receives the device token (APNs, lowercase hex) or
// registration id (C2DM/GCM) of an identity the gateway reported as no
// longer deliverable.
type IdentityRemovedFunc func(deviceToken string)
