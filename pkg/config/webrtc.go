package config

import (
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

const DefaultStun = "stun:stun.l.google.com:19302"

type Webrtc struct {
	// IceServers are handed to every client as is.
	IceServers []webrtc.ICEServer
	LogLevel   int `default:"1"`
	IcePorts   struct {
		Min uint16
		Max uint16
	}
}

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max >= w.IcePorts.Min }

// IceJSON returns the ICE servers in the form browsers accept in RTCConfiguration.
func (w *Webrtc) IceJSON() ([]byte, error) {
	servers := w.IceServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	return json.Marshal(servers)
}
