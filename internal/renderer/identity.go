package renderer

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/conneroisu/rain/internal/parser"
)

// Identity names one component instance. DomID is unique within a
// request; InstanceID stays the same across requests of a session.
type Identity struct {
	DomID      int64  `json:"domId" msgpack:"domId"`
	InstanceID string `json:"instanceId" msgpack:"instanceId"`
}

// DeriveInstanceID hashes the inputs that make a component instance unique.
func DeriveInstanceID(sessionID, serverID, componentKey, parentInstanceID, staticID string) string {
	h := sha1.New()
	for _, part := range []string{sessionID, serverID, componentKey, parentInstanceID, staticID} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// InstanceKey is the session key an instance id is remembered under.
func InstanceKey(componentKey, parentInstanceID, staticID string) string {
	key := componentKey + "_pInstanceId=" + parentInstanceID
	if staticID != "" {
		key += "_staticID=" + staticID
	}
	return key
}

// StaticID returns the author supplied data-sid of the element r renders.
func (r *Renderer) StaticID() string {
	if r.element == nil {
		return ""
	}
	if r.element.StaticID != "" {
		return r.element.StaticID
	}
	sid, _ := r.element.Attr(parser.StaticIDAttr)
	return sid
}

// Identity returns the renderer's identity, computing it on first use.
// The parent's identity is always computed before the child's.
func (r *Renderer) Identity() Identity {
	r.identOnce.Do(func() {
		parentInstance := ""
		if r.parent != nil {
			parentInstance = r.parent.Identity().InstanceID
		}
		componentKey := r.cfg.ID + r.cfg.Version
		staticID := r.StaticID()

		derive := func() string {
			return DeriveInstanceID(r.req.SessionID(), r.env.ServerID, componentKey, parentInstance, staticID)
		}

		instanceID := ""
		if r.req.Session != nil {
			instanceID = r.req.Session.InstanceID(InstanceKey(componentKey, parentInstance, staticID), derive)
		} else {
			instanceID = derive()
		}

		r.identity = Identity{DomID: r.req.nextDomID(), InstanceID: instanceID}
	})
	return r.identity
}
