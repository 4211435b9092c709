// Package wire defines the JSON message contract exchanged with peers and
// the closed set of request types the relay knows how to route.
package wire

import "encoding/json"

// RequestType is one of the closed set of base request types a caller may
// target. Mirrored from spec.md §6.
type RequestType string

const (
	TypeSearch               RequestType = "search"
	TypeEntity               RequestType = "entity"
	TypeStructure             RequestType = "structure"
	TypeContents              RequestType = "contents"
	TypeCreate                RequestType = "create"
	TypeUpdate                RequestType = "update"
	TypeDelete                RequestType = "delete"
	TypeRolls                 RequestType = "rolls"
	TypeLastRoll              RequestType = "last-roll"
	TypeRoll                  RequestType = "roll"
	TypeGetSheet              RequestType = "get-sheet"
	TypeMacroExecute          RequestType = "macro-execute"
	TypeMacros                RequestType = "macros"
	TypeEncounters            RequestType = "encounters"
	TypeStartEncounter        RequestType = "start-encounter"
	TypeNextTurn              RequestType = "next-turn"
	TypeNextRound             RequestType = "next-round"
	TypeLastTurn              RequestType = "last-turn"
	TypeLastRound             RequestType = "last-round"
	TypeEndEncounter          RequestType = "end-encounter"
	TypeAddToEncounter        RequestType = "add-to-encounter"
	TypeRemoveFromEncounter   RequestType = "remove-from-encounter"
	TypeKill                  RequestType = "kill"
	TypeDecrease              RequestType = "decrease"
	TypeIncrease              RequestType = "increase"
	TypeGive                  RequestType = "give"
	TypeRemove                RequestType = "remove"
	TypeExecuteJS             RequestType = "execute-js"
	TypeSelect                RequestType = "select"
	TypeSelected              RequestType = "selected"
	TypeFileSystem            RequestType = "file-system"
	TypeUploadFile            RequestType = "upload-file"
	TypeDownloadFile          RequestType = "download-file"
	TypeGetActorDetails       RequestType = "get-actor-details"
	TypeModifyItemCharges     RequestType = "modify-item-charges"
	TypeUseAbility            RequestType = "use-ability"
	TypeUseFeature            RequestType = "use-feature"
	TypeUseSpell              RequestType = "use-spell"
	TypeUseItem               RequestType = "use-item"
	TypeModifyExperience      RequestType = "modify-experience"
	TypeAddItem               RequestType = "add-item"
	TypeRemoveItem            RequestType = "remove-item"
	TypeGetFolder             RequestType = "get-folder"
	TypeCreateFolder          RequestType = "create-folder"
	TypeDeleteFolder          RequestType = "delete-folder"
	TypeChatMessages          RequestType = "chat-messages"
	TypeChat                  RequestType = "chat"
)

// requestTypes is the closed set, used to validate inbound HTTP routes
// without hardcoding the check at every call site.
var requestTypes = map[RequestType]struct{}{
	TypeSearch: {}, TypeEntity: {}, TypeStructure: {}, TypeContents: {},
	TypeCreate: {}, TypeUpdate: {}, TypeDelete: {}, TypeRolls: {},
	TypeLastRoll: {}, TypeRoll: {}, TypeGetSheet: {}, TypeMacroExecute: {},
	TypeMacros: {}, TypeEncounters: {}, TypeStartEncounter: {},
	TypeNextTurn: {}, TypeNextRound: {}, TypeLastTurn: {}, TypeLastRound: {},
	TypeEndEncounter: {}, TypeAddToEncounter: {}, TypeRemoveFromEncounter: {},
	TypeKill: {}, TypeDecrease: {}, TypeIncrease: {}, TypeGive: {},
	TypeRemove: {}, TypeExecuteJS: {}, TypeSelect: {}, TypeSelected: {},
	TypeFileSystem: {}, TypeUploadFile: {}, TypeDownloadFile: {},
	TypeGetActorDetails: {}, TypeModifyItemCharges: {}, TypeUseAbility: {},
	TypeUseFeature: {}, TypeUseSpell: {}, TypeUseItem: {},
	TypeModifyExperience: {}, TypeAddItem: {}, TypeRemoveItem: {},
	TypeGetFolder: {}, TypeCreateFolder: {}, TypeDeleteFolder: {},
	TypeChatMessages: {}, TypeChat: {},
}

// IsKnownType reports whether t is a member of the closed request-type set.
func IsKnownType(t RequestType) bool {
	_, ok := requestTypes[t]
	return ok
}

// ResponseType returns the response type tag a peer is expected to reply
// with for a given request type: "t-result", except get-sheet which is
// special-cased to "get-sheet-response" per spec.md §6.
func ResponseType(t RequestType) string {
	if t == TypeGetSheet {
		return "get-sheet-response"
	}
	return string(t) + "-result"
}

// Envelope is the minimal shape every wire message satisfies, in both
// directions. Additional fields are payload-specific; Data is tagged "-", so
// encoding/json neither fills nor writes it, and opaque passthrough of those
// fields goes through Raw instead.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"-"`
}

// Raw is the wire message kept as a raw JSON object so unknown fields are
// preserved opaquely through the relay (spec.md §9, "dynamic payload
// passthrough").
type Raw map[string]json.RawMessage

// Type returns the "type" field of a raw message, or "" if absent/malformed.
func (r Raw) Type() string {
	var t string
	if raw, ok := r["type"]; ok {
		_ = json.Unmarshal(raw, &t)
	}
	return t
}

// RequestID returns the "requestId" field, or "" if absent.
func (r Raw) RequestID() string {
	var id string
	if raw, ok := r["requestId"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	return id
}

// ErrorField returns the "error" field, or "" if absent.
func (r Raw) ErrorField() string {
	var e string
	if raw, ok := r["error"]; ok {
		_ = json.Unmarshal(raw, &e)
	}
	return e
}

// Clone returns a shallow copy of r safe for independent mutation of the
// top-level key set.
func (r Raw) Clone() Raw {
	out := make(Raw, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ShapeHints carries per-type, opaque formatting hints from the HTTP edge
// through to the Response Router (spec.md §3, "shapeHints").
type ShapeHints struct {
	Format    string `json:"format,omitempty"`    // "json" | "binary" | "raw"
	ActiveTab *int   `json:"activeTab,omitempty"` // get-sheet tab index to activate
}

// SensitiveKeys are stripped from any response body before it leaves the
// relay (spec.md §7).
var SensitiveKeys = []string{"privateKey", "apiKey", "password"}

// StripSensitive removes SensitiveKeys from r in place and returns r.
func StripSensitive(r Raw) Raw {
	for _, k := range SensitiveKeys {
		delete(r, k)
	}
	return r
}
