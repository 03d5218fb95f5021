package serialmux

import (
	"context"
	"net/http"
)

// DisabledSerialMux stands in for a board when samples arrive another way,
// such as over NATS. Its subscribers never receive lines; their channels
// close on Unsubscribe or Close so readers unblock at shutdown.
type DisabledSerialMux struct {
	reg registry
}

var _ SerialMuxInterface = (*DisabledSerialMux)(nil)

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{reg: newRegistry(0)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.reg.subscribe() }
func (d *DisabledSerialMux) Unsubscribe(id string)             { d.reg.unsubscribe(id) }
func (d *DisabledSerialMux) SendCommand(string) error          { return nil }
func (d *DisabledSerialMux) Initialise(float64) error          { return nil }
func (d *DisabledSerialMux) Stats() Stats                      { return d.reg.stats() }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.reg.shutdown()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("serial disabled"))
	})
}
