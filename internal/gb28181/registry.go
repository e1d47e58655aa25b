package gb28181

import "sync"

// Registry binds SSRCs to Sessions, mirroring SrsGbManager's
// find_by_fast_id lookup used by SrsGbMediaTcpConn::bind_session. A
// session is normally registered by the signaling/HTTP-API side (device
// INVITE handling) before its media transport connects, keyed by the SSRC
// negotiated in the SDP answer; MediaConn looks it up once it decodes the
// first RTP packet's SSRC.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]*Session
	bySSRC map[uint32]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[string]*Session),
		bySSRC: make(map[uint32]*Session),
	}
}

// Register associates a freshly created Session with the stream key and
// SSRC negotiated during signaling, before any media has arrived.
func (r *Registry) Register(ssrc uint32, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[s.StreamKey] = s
	r.bySSRC[ssrc] = s
}

// FindBySSRC returns the Session bound to ssrc, or nil.
func (r *Registry) FindBySSRC(ssrc uint32) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySSRC[ssrc]
}

// Unregister removes a session from both indices.
func (r *Registry) Unregister(ssrc uint32, streamKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySSRC, ssrc)
	delete(r.byKey, streamKey)
}

func (r *Registry) Get(streamKey string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[streamKey]
}
