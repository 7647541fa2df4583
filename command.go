package pipes

import (
	"fmt"
	"sort"
	"strings"
)

// Code identifies a pipes command on the wire.
// These values MUST match the framework's BinaryProtocol constants exactly.
type Code uint8

const (
	StartMessage      Code = 0
	SetJobConf        Code = 1
	SetInputTypes     Code = 2
	RunMap            Code = 3
	MapItem           Code = 4
	RunReduce         Code = 5
	ReduceKey         Code = 6
	ReduceValue       Code = 7
	Close             Code = 8
	Abort             Code = 9
	AuthenticationReq Code = 10

	Output             Code = 50
	PartitionedOutput  Code = 51
	Status             Code = 52
	Progress           Code = 53
	Done               Code = 54
	RegisterCounter    Code = 55
	IncrementCounter   Code = 56
	AuthenticationResp Code = 57
)

// Direction tells which side of the pipe is allowed to send a command.
type Direction uint8

const (
	// Down is framework -> task.
	Down Direction = iota
	// Up is task -> framework.
	Up
)

func (d Direction) String() string {
	switch d {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

type codeInfo struct {
	name      string
	direction Direction
}

// commandTable is the single source of truth for the vocabulary. Both
// direction sets are derived from it.
var commandTable = map[Code]codeInfo{
	StartMessage:      {"START_MESSAGE", Down},
	SetJobConf:        {"SET_JOB_CONF", Down},
	SetInputTypes:     {"SET_INPUT_TYPES", Down},
	RunMap:            {"RUN_MAP", Down},
	MapItem:           {"MAP_ITEM", Down},
	RunReduce:         {"RUN_REDUCE", Down},
	ReduceKey:         {"REDUCE_KEY", Down},
	ReduceValue:       {"REDUCE_VALUE", Down},
	Close:             {"CLOSE", Down},
	Abort:             {"ABORT", Down},
	AuthenticationReq: {"AUTHENTICATION_REQ", Down},

	Output:             {"OUTPUT", Up},
	PartitionedOutput:  {"PARTITIONED_OUTPUT", Up},
	Status:             {"STATUS", Up},
	Progress:           {"PROGRESS", Up},
	Done:               {"DONE", Up},
	RegisterCounter:    {"REGISTER_COUNTER", Up},
	IncrementCounter:   {"INCREMENT_COUNTER", Up},
	AuthenticationResp: {"AUTHENTICATION_RESP", Up},
}

// String returns the protocol name of the code
func (c Code) String() string {
	if info, ok := commandTable[c]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
}

// Known reports whether c belongs to either vocabulary.
func (c Code) Known() bool {
	_, ok := commandTable[c]
	return ok
}

// Direction returns the direction c travels in. ok is false for unknown codes.
func (c Code) Direction() (d Direction, ok bool) {
	info, ok := commandTable[c]
	return info.direction, ok
}

// Command is one decoded protocol record. Args is nil for commands that carry
// no arguments (CLOSE, ABORT, DONE, ...).
type Command struct {
	Code Code
	Args []any
}

// NewCommand creates a command with the given arguments
func NewCommand(code Code, args ...any) Command {
	if len(args) == 0 {
		return Command{Code: code}
	}
	return Command{Code: code, Args: args}
}

// Arg returns the i-th argument, or nil when absent.
func (c Command) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// BytesArg returns the i-th argument as raw bytes. Text arguments are
// converted; anything else is a malformed command.
func (c Command) BytesArg(i int) ([]byte, error) {
	switch v := c.Arg(i).(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, newMalformed(c.Code, fmt.Sprintf("missing argument %d", i))
	default:
		return nil, newMalformed(c.Code, fmt.Sprintf("argument %d has type %T, expected bytes", i, v))
	}
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Code.String()
	}
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = formatArg(a)
	}
	return fmt.Sprintf("%s(%s)", c.Code, strings.Join(parts, ", "))
}

func formatArg(a any) string {
	switch v := a.(type) {
	case []byte:
		return fmt.Sprintf("%q", v)
	case []any:
		parts := make([]string, len(v))
		for i, x := range v {
			parts[i] = formatArg(x)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Vocabulary is the set of codes a direction-scoped adapter accepts.
type Vocabulary struct {
	direction Direction
	codes     map[Code]struct{}
}

// DownVocabulary holds every framework -> task code.
var DownVocabulary = newVocabulary(Down)

// UpVocabulary holds every task -> framework code.
var UpVocabulary = newVocabulary(Up)

func newVocabulary(d Direction) *Vocabulary {
	v := &Vocabulary{direction: d, codes: make(map[Code]struct{})}
	for code, info := range commandTable {
		if info.direction == d {
			v.codes[code] = struct{}{}
		}
	}
	return v
}

// Direction returns the direction this vocabulary covers
func (v *Vocabulary) Direction() Direction {
	return v.direction
}

// Contains reports whether code is part of the vocabulary
func (v *Vocabulary) Contains(code Code) bool {
	_, ok := v.codes[code]
	return ok
}

// Codes returns the vocabulary in ascending order
func (v *Vocabulary) Codes() []Code {
	codes := make([]Code, 0, len(v.codes))
	for c := range v.codes {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Validate returns a ProtocolError when code does not belong to v. A code
// from the opposite direction is reported as WrongDirection, anything else as
// UnknownCommand.
func (v *Vocabulary) Validate(code Code) error {
	if v.Contains(code) {
		return nil
	}
	if d, ok := code.Direction(); ok {
		return &ProtocolError{
			Kind:    ErrorKindWrongDirection,
			Code:    code,
			Message: fmt.Sprintf("%s is a %s command, not allowed on the %s stream", code, d, v.direction),
		}
	}
	return &ProtocolError{
		Kind:    ErrorKindUnknownCommand,
		Code:    code,
		Message: fmt.Sprintf("unknown command code %d", uint8(code)),
	}
}
