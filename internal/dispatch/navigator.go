package dispatch

import (
	"encoding/json"
	"time"

	"github.com/medport-labs/medvoice-core/internal/bus"
	"github.com/medport-labs/medvoice-core/internal/protocol"
)

// Navigator performs client-side navigation. No return value is observed.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }

type navigateMessage struct {
	Route     string    `json:"route"`
	Timestamp time.Time `json:"timestamp"`
}

// BusNavigator publishes navigation requests for the portal client to act on.
type BusNavigator struct {
	bus *bus.Client
}

func NewBusNavigator(busClient *bus.Client) *BusNavigator {
	return &BusNavigator{bus: busClient}
}

func (n *BusNavigator) Navigate(route string) {
	if n.bus == nil {
		return
	}
	data, err := json.Marshal(navigateMessage{Route: route, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := n.bus.Conn().Publish(protocol.SubjectNavigate, data); err != nil {
		n.bus.Logger().Warn("failed to publish navigation", "error", err.Error())
	}
}
