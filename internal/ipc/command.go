package ipc

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultMaxCommandLength bounds a command payload when no limit is configured.
const DefaultMaxCommandLength = 1024

// QueryPrefix marks a payload as a query; matching is case-insensitive.
const QueryPrefix = "query."

// ErrMalformed reports a payload that cannot be parsed into a Command.
var ErrMalformed = errors.New("malformed command")

// Kind classifies a parsed command.
type Kind int

const (
	// KindGeneric is a state-changing or UI command handled without a reply.
	KindGeneric Kind = iota + 1
	// KindQuery asks the primary to publish an answer through the result exchange.
	KindQuery
	// KindPing is an idempotent liveness nudge. Delivery is at-most-once and unconfirmed.
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindQuery:
		return "query"
	case KindPing:
		return "ping"
	default:
		return "unknown"
	}
}

// Generic verbs understood by the primary.
const (
	VerbStart           = "start"
	VerbStop            = "stop"
	VerbShutdown        = "shutdown"
	VerbShow            = "show"
	VerbPing            = "ping"
	VerbLoadProfile     = "loadprofile"
	VerbLoadTempProfile = "loadtempprofile"
	VerbDisconnect      = "disconnect"
	VerbCycle           = "cycle"
)

// verbArity is the exact number of dot-separated arguments each verb takes.
// The final argument of a verb absorbs any further dots.
var verbArity = map[string]int{
	VerbStart:           0,
	VerbStop:            0,
	VerbShutdown:        0,
	VerbShow:            0,
	VerbPing:            0,
	VerbLoadProfile:     2,
	VerbLoadTempProfile: 2,
	VerbDisconnect:      1,
	VerbCycle:           0,
}

// Command is one parsed payload.
type Command struct {
	Kind     Kind
	Verb     string
	Args     []string
	Resource string
	Raw      string
}

func (c Command) String() string {
	return c.Raw
}

var folder = cases.Fold()

// Parse validates payload and classifies it. maxLen <= 0 selects
// DefaultMaxCommandLength. Trailing NUL bytes and surrounding whitespace are
// ignored.
func Parse(payload string, maxLen int) (Command, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxCommandLength
	}
	raw := strings.TrimSpace(strings.TrimRight(payload, "\x00"))
	if raw == "" {
		return Command{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if len(raw) > maxLen {
		return Command{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMalformed, len(raw), maxLen)
	}
	if err := checkASCII(raw); err != nil {
		return Command{}, err
	}

	if len(raw) >= len(QueryPrefix) && strings.EqualFold(raw[:len(QueryPrefix)], QueryPrefix) {
		resource := raw[len(QueryPrefix):]
		if resource == "" {
			return Command{}, fmt.Errorf("%w: query without resource", ErrMalformed)
		}
		return Command{Kind: KindQuery, Verb: "query", Resource: resource, Raw: raw}, nil
	}

	head, rest, _ := strings.Cut(raw, ".")
	verb := folder.String(head)
	arity, ok := verbArity[verb]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown verb %q", ErrMalformed, head)
	}
	var args []string
	if arity > 0 {
		args = strings.SplitN(rest, ".", arity)
		if rest == "" || len(args) != arity {
			return Command{}, fmt.Errorf("%w: %s takes %d argument(s)", ErrMalformed, verb, arity)
		}
		for _, arg := range args {
			if strings.TrimSpace(arg) == "" {
				return Command{}, fmt.Errorf("%w: %s has an empty argument", ErrMalformed, verb)
			}
		}
	} else if rest != "" {
		return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrMalformed, verb)
	}

	kind := KindGeneric
	if verb == VerbPing {
		kind = KindPing
	}
	return Command{Kind: kind, Verb: verb, Args: args, Raw: raw}, nil
}

// ValidatePayload applies the sender-side checks: printable ASCII within maxLen.
func ValidatePayload(payload string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxCommandLength
	}
	if payload == "" {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if len(payload) > maxLen {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMalformed, len(payload), maxLen)
	}
	return checkASCII(payload)
}

func checkASCII(s string) error {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c > 0x7e {
			return fmt.Errorf("%w: byte 0x%02x at offset %d is not printable ASCII", ErrMalformed, c, i)
		}
	}
	return nil
}
