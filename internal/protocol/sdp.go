package protocol

import (
	"encoding/json"

	"github.com/pion/sdp/v3"
)

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// DescriptionHasVideo reports whether a JSON session description offers an
// active video stream. Malformed descriptions report false.
func DescriptionHasVideo(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var desc sessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil || desc.SDP == "" {
		return false
	}

	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc.SDP); err != nil {
		return false
	}

	for _, media := range parsed.MediaDescriptions {
		if media.MediaName.Media != "video" || media.MediaName.Port.Value == 0 {
			continue
		}
		if _, inactive := media.Attribute("inactive"); inactive {
			continue
		}
		return true
	}
	return false
}
