package domain

import (
	"fmt"
	"strings"
)

// ValidateVideo applies the discovery-time hard filter. A Video whose
// duration exceeds maxDurationSec is rejected and never persisted.
func ValidateVideo(v Video, maxDurationSec int) error {
	if strings.TrimSpace(v.VideoID) == "" {
		return NewValidationError("video_id", v.VideoID, fmt.Errorf("must not be empty"))
	}
	if strings.TrimSpace(v.ChannelID) == "" {
		return NewValidationError("channel_id", v.ChannelID, fmt.Errorf("must not be empty"))
	}
	if v.DurationSec < 0 {
		return NewValidationError("duration_sec", fmt.Sprint(v.DurationSec), fmt.Errorf("must not be negative"))
	}
	if maxDurationSec <= 0 {
		maxDurationSec = MaxDurationSec
	}
	if v.DurationSec > maxDurationSec {
		return NewValidationError("duration_sec", fmt.Sprint(v.DurationSec), ErrDurationExceedsMax)
	}
	return nil
}

// SensitivePatterns are the built-in patterns the Policy Enforcer (C9)
// always matches over result text; operator patterns are merged over them,
// replacing a built-in of the same kind.
var SensitivePatterns = map[string]string{
	"email": `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
	"phone": `\+?\d[\d\-. ]{7,}\d`,
}
