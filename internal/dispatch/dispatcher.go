package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medport-labs/medvoice-core/internal/identity"
	"github.com/medport-labs/medvoice-core/internal/intent"
)

// ActionResult is the outcome of dispatching one intent. Message is shown to
// the user and spoken back; failures never escape as errors.
type ActionResult struct {
	Success bool
	Message string
}

const (
	msgUnresolved = "Sorry, I didn't understand that command."
	msgLoginFirst = "Please log in to use voice commands."
	msgGenericErr = "Sorry, that didn't work. Please try again."
	msgHelp       = "You can say things like: navigate to billing, book an appointment, or add medication."
)

// remoteCommands is the set of commands carried out by the actions endpoint.
var remoteCommands = map[intent.Command]struct{}{
	intent.CommandBookAppointment:    {},
	intent.CommandCancelAppointment:  {},
	intent.CommandAddMedication:      {},
	intent.CommandRefillPrescription: {},
	intent.CommandAddAvailability:    {},
}

// Dispatcher maps resolved intents to navigation, remote actions, or canned
// responses. It holds no cross-call state and performs no deduplication:
// dispatching the same intent twice performs the action twice.
type Dispatcher struct {
	client    *ActionClient
	navigator Navigator
	log       *slog.Logger
}

func NewDispatcher(client *ActionClient, navigator Navigator, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:    client,
		navigator: navigator,
		log:       log.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch converts an intent into an ActionResult. Every failure is
// captured here; nothing propagates past the dispatcher boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent, auth *identity.AuthContext) ActionResult {
	switch {
	case in.Command == intent.CommandUnresolved:
		return ActionResult{Success: false, Message: msgUnresolved}
	case in.Command == intent.CommandHelp:
		return ActionResult{Success: true, Message: msgHelp}
	case in.Command == intent.CommandNavigate:
		return d.dispatchNavigate(in, auth)
	default:
		if _, ok := remoteCommands[in.Command]; ok {
			return d.dispatchRemote(ctx, in, auth)
		}
		return ActionResult{Success: false, Message: msgUnresolved}
	}
}

func (d *Dispatcher) dispatchNavigate(in intent.Intent, auth *identity.AuthContext) ActionResult {
	if auth == nil {
		return ActionResult{Success: false, Message: msgLoginFirst}
	}
	route := in.Slots[intent.SlotRoute]
	target := in.Slots[intent.SlotTarget]
	if route == "" {
		return ActionResult{Success: false, Message: msgUnresolved}
	}
	d.navigator.Navigate(route)
	return ActionResult{Success: true, Message: fmt.Sprintf("Opening %s.", target)}
}

func (d *Dispatcher) dispatchRemote(ctx context.Context, in intent.Intent, auth *identity.AuthContext) ActionResult {
	if auth == nil || auth.Token == "" {
		return ActionResult{Success: false, Message: msgLoginFirst}
	}

	reply, err := d.client.Invoke(ctx, auth, in.Command, in.Slots)
	if err != nil {
		d.log.Warn("remote action failed",
			slog.String("command", string(in.Command)),
			slog.String("error", err.Error()))
		var serverErr *ServerError
		if errors.As(err, &serverErr) && serverErr.Message != "" {
			return ActionResult{Success: false, Message: serverErr.Message}
		}
		return ActionResult{Success: false, Message: msgGenericErr}
	}
	if reply == "" {
		reply = "Done."
	}
	return ActionResult{Success: true, Message: reply}
}
