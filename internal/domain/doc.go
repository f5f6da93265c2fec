// Package domain models the RainVision camera fleet and the decisions the
// scan pipeline makes about it.
//
// # Data Source
//
// Images come from the public Ho Chi Minh City traffic-camera network. Each
// camera publishes a JPEG snapshot at a fixed URL that refreshes every few
// seconds; there is no streaming API, so the scanner polls. Cameras are
// grouped administratively by ward and district, and alert subscriptions are
// keyed by ward.
//
// # Entities
//
// Camera rows are never deleted by the scanner; the only field it mutates is
// Status (Active/Offline). Maintenance is set and cleared by operators only
// and excludes a camera from scanning entirely.
//
// ScanJob and ScanAttempt form the audit trail: one job per scheduler cycle,
// exactly one attempt per (job, camera) pair regardless of how the camera's
// pipeline run ended. ObservationLog is append-only, one row per successful
// classification, with the camera's coordinates denormalized at write time so
// historical points stay put if a camera is later relocated.
//
// # Alert cooldown
//
// There is no durable "last alert" column. The cooldown is derived from the
// latest *raining* ObservationLog row for the camera, which makes the policy
// survive process restarts and keeps interleaved clear frames during a storm
// from resetting the window. See [ShouldAlert].
package domain
