package mesh

import "errors"

var (
	// ErrAcquisitionGap means no frame or pose was available for an iteration
	ErrAcquisitionGap = errors.New("acquisition gap")

	// ErrNoPose means a controller status could not be turned into a pose
	ErrNoPose = errors.New("no pose available")

	// ErrFitFailure means a channel's stripe could not be localized on a frame
	ErrFitFailure = errors.New("stripe fit failed")

	// ErrCalibrationMissing means the image centre / baseline are not established
	ErrCalibrationMissing = errors.New("calibration not established")

	// ErrInsufficientData is returned when an export has fewer than 3 points or vertices
	ErrInsufficientData = errors.New("insufficient data")
)

// ErrMoveTimeout means a commanded move never produced the minimum pose change
var ErrMoveTimeout = errors.New("move did not register before timeout")
