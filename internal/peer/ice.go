package peer

import "github.com/pion/webrtc/v4"

// TURNServer is a dynamically issued relay entry passed into connect by the
// credential collaborator.
type TURNServer struct {
	URLs       []string
	Username   string
	Credential string
}

// DefaultSTUNURL is the fixed public entry combined with issued TURN servers.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// ICEConfiguration builds the connection configuration from the fixed STUN
// entry plus the supplied TURN servers.
func ICEConfiguration(turn []TURNServer) webrtc.Configuration {
	servers := []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}
	for _, t := range turn {
		servers = append(servers, webrtc.ICEServer{
			URLs:       t.URLs,
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}
