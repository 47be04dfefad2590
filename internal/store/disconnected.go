package store

import "context"

// disconnected is the inert gateway left behind by a failed initialization.
type disconnected struct{}

// Disconnected returns a [Gateway] whose operations all fail with
// [ErrNotConnected]. The bridge falls back to it when the database cannot
// be opened so that ingest and serving keep running.
func Disconnected() Gateway {
	return disconnected{}
}

func (disconnected) Insert(context.Context, string) (Measurement, error) {
	return Measurement{}, ErrNotConnected
}

func (disconnected) All(context.Context) ([]Measurement, error) {
	return nil, ErrNotConnected
}

func (disconnected) Close() error {
	return nil
}
