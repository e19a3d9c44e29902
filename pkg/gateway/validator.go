package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/shared"
)

// Limits for incoming client requests.
const (
	MaxJSONDepth     = 6
	MaxJSONKeys      = 32
	MaxJSONArraySize = 256
	MaxSpeedMillis   = 5000
)

var (
	ErrJSONTooDeep       = errors.New("JSON nesting too deep")
	ErrJSONTooManyKeys   = errors.New("too many keys in JSON object")
	ErrJSONArrayTooLarge = errors.New("JSON array too large")
	ErrJSONMalicious     = errors.New("potentially malicious JSON detected")
	ErrUnknownAction     = errors.New("unknown action")
	ErrCodeTooLong       = errors.New("program too long")
)

var knownActions = map[shared.Action]bool{
	shared.ActionExecute:   true,
	shared.ActionStep:      true,
	shared.ActionStop:      true,
	shared.ActionRestart:   true,
	shared.ActionSpeed:     true,
	shared.ActionLoadLevel: true,
	shared.ActionStatus:    true,
	shared.ActionKeepalive: true,
}

// RequestValidator checks websocket requests before they reach a room.
type RequestValidator struct {
	MaxDepth      int
	MaxKeys       int
	MaxArraySize  int
	MaxCodeLength int
}

// NewRequestValidator reads the code length limit from [Interpreter].
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		MaxDepth:      MaxJSONDepth,
		MaxKeys:       MaxJSONKeys,
		MaxArraySize:  MaxJSONArraySize,
		MaxCodeLength: configuration.GetInt("Interpreter", "max_code_length", 20000),
	}
}

// Parse validates the raw frame and decodes it into a request.
func (v *RequestValidator) Parse(data []byte) (*shared.Request, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.validateStructure(raw, 0); err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	var req shared.Request
	if err := decoder.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	if !knownActions[req.Action] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if len(req.Code) > v.MaxCodeLength {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrCodeTooLong, len(req.Code), v.MaxCodeLength)
	}
	if req.Action == shared.ActionSpeed && (req.Speed < 0 || req.Speed > MaxSpeedMillis) {
		return nil, fmt.Errorf("speed must be between 0 and %d ms", MaxSpeedMillis)
	}
	if req.LevelID != "" {
		if err := ValidateSessionID(req.LevelID); err != nil {
			return nil, fmt.Errorf("invalid level id: %w", err)
		}
	}
	return &req, nil
}

func (v *RequestValidator) validateStructure(obj interface{}, depth int) error {
	if depth > v.MaxDepth {
		return ErrJSONTooDeep
	}

	switch val := obj.(type) {
	case map[string]interface{}:
		if len(val) > v.MaxKeys {
			return ErrJSONTooManyKeys
		}
		for key, value := range val {
			if isMaliciousKey(key) {
				return ErrJSONMalicious
			}
			if err := v.validateStructure(value, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		if len(val) > v.MaxArraySize {
			return ErrJSONArrayTooLarge
		}
		for _, item := range val {
			if err := v.validateStructure(item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func isMaliciousKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range []string{"__proto__", "constructor", "prototype"} {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// ValidateSessionID accepts IDs made of letters, digits, '-' and '_'.
func ValidateSessionID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("session ID is empty")
	}
	if len(id) > 128 {
		return fmt.Errorf("session ID too long")
	}
	for _, r := range id {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return fmt.Errorf("session ID contains invalid characters")
		}
	}
	return nil
}
