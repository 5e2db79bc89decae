package port

import "context"

// ProductionMeter measures realized PV production per day. Implementations
// typically sample a lifetime energy counter at day boundaries and report the
// delta.
type ProductionMeter interface {
	// CaptureBaseline samples the lifetime counter for the current day
	// boundary. Meant to run at local midnight.
	CaptureBaseline(ctx context.Context) error
	// DayYieldWh returns the energy produced on date (canonical day key).
	// Requires baselines for date and the following day.
	DayYieldWh(ctx context.Context, date string) (float64, error)
	Close() error
}
