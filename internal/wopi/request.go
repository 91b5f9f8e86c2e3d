// Package wopi classifies inbound WOPI protocol calls.
package wopi

import (
	"net/http"
	"strings"
)

// Kind enumerates the WOPI operations the host understands.
type Kind int

const (
	None Kind = iota
	CheckFileInfo
	GetFile
	Lock
	GetLock
	RefreshLock
	Unlock
	UnlockAndRelock
	PutFile
	PutRelativeFile
	RenameFile
	PutUserInfo

	// KindCount is the number of kinds, for tables indexed by Kind.
	KindCount
)

var kindNames = [KindCount]string{
	None:            "None",
	CheckFileInfo:   "CheckFileInfo",
	GetFile:         "GetFile",
	Lock:            "Lock",
	GetLock:         "GetLock",
	RefreshLock:     "RefreshLock",
	Unlock:          "Unlock",
	UnlockAndRelock: "UnlockAndRelock",
	PutFile:         "PutFile",
	PutRelativeFile: "PutRelativeFile",
	RenameFile:      "RenameFile",
	PutUserInfo:     "PutUserInfo",
}

func (k Kind) String() string {
	if k < 0 || k >= KindCount {
		return "None"
	}
	return kindNames[k]
}

// Request headers.
const (
	HeaderOverride        = "X-WOPI-Override"
	HeaderLock            = "X-WOPI-Lock"
	HeaderOldLock         = "X-WOPI-OldLock"
	HeaderRelativeTarget  = "X-WOPI-RelativeTarget"
	HeaderSuggestedTarget = "X-WOPI-SuggestedTarget"
	HeaderRequestedName   = "X-WOPI-RequestedName"
	HeaderProof           = "X-WOPI-Proof"
	HeaderProofOld        = "X-WOPI-ProofOld"
	HeaderTimestamp       = "X-WOPI-TimeStamp"
)

// Response headers.
const (
	HeaderLockFailureReason = "X-WOPI-LockFailureReason"
	HeaderItemVersion       = "X-WOPI-ItemVersion"
)

// AccessTokenParam is the query parameter carrying the access token.
const AccessTokenParam = "access_token"

const (
	basePath     = "/wopi/"
	filesPath    = "files/"
	foldersPath  = "folders/"
	contentsPath = "/contents"
	childrenPath = "/children"
)

// Descriptor is the classified form of one inbound call.
type Descriptor struct {
	Kind        Kind
	ID          string
	AccessToken string
}

var overrides = map[string]Kind{
	"GET_LOCK":      GetLock,
	"REFRESH_LOCK":  RefreshLock,
	"UNLOCK":        Unlock,
	"PUT_RELATIVE":  PutRelativeFile,
	"RENAME_FILE":   RenameFile,
	"PUT_USER_INFO": PutUserInfo,
}

// Classify maps a request path, verb and headers to a Descriptor. It never
// fails: anything it does not recognise yields Kind None. The path is matched
// case-insensitively, so the returned ID is lower-cased.
func Classify(path, method string, h http.Header) Descriptor {
	var d Descriptor

	p := strings.ToLower(path)
	i := strings.Index(p, basePath)
	if i < 0 {
		return d
	}
	rest := p[i+len(basePath):]

	switch {
	case strings.HasPrefix(rest, filesPath):
		raw := strings.TrimPrefix(rest, filesPath)
		if id, ok := strings.CutSuffix(raw, contentsPath); ok {
			d.ID = id
			switch method {
			case http.MethodGet:
				d.Kind = GetFile
			case http.MethodPost:
				d.Kind = PutFile
			}
			return d
		}

		d.ID = raw
		switch method {
		case http.MethodGet:
			d.Kind = CheckFileInfo
		case http.MethodPost:
			d.Kind = classifyOverride(h)
		}
	case strings.HasPrefix(rest, foldersPath):
		// Folder operations are recognised but have no handler.
		raw := strings.TrimPrefix(rest, foldersPath)
		if id, ok := strings.CutSuffix(raw, childrenPath); ok {
			d.ID = id
		} else {
			d.ID = strings.TrimSuffix(raw, contentsPath)
		}
	}
	return d
}

func classifyOverride(h http.Header) Kind {
	override := h.Get(HeaderOverride)
	if override == "LOCK" {
		if HasHeader(h, HeaderOldLock) {
			return UnlockAndRelock
		}
		return Lock
	}
	if k, ok := overrides[override]; ok {
		return k
	}
	return None
}

// HasHeader reports whether name is present at all, even with an empty value.
func HasHeader(h http.Header, name string) bool {
	_, ok := h[http.CanonicalHeaderKey(name)]
	return ok
}
