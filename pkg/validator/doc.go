// Package validator provides composable, rule-based validation for request payloads.
//
// Rules are plain values built by constructor functions and evaluated by Apply,
// which returns ValidationErrors listing every failed field:
//
//	err := validator.Apply(
//		validator.ValidUUID("userId", req.UserID),
//		validator.RequiredString("deviceId", req.DeviceID),
//		validator.MaxLenString("deviceId", req.DeviceID, 255),
//	)
//
// HTTP handlers convert ValidationErrors into a 422 response with per-field details.
package validator
