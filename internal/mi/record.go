package mi

import "strings"

// RecordKind classifies an MI output record.
type RecordKind int

const (
	// KindResult is a synchronous command result (^).
	KindResult RecordKind = iota
	// KindAsync is an asynchronous execution event (*).
	KindAsync
	// KindNotify is an asynchronous notification (=).
	KindNotify
	// KindStream is unstructured stream text (~, &, @).
	KindStream
)

// String returns a human-readable kind name.
func (k RecordKind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindAsync:
		return "async"
	case KindNotify:
		return "notify"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// StreamChannel identifies which stream a stream record came from.
type StreamChannel int

const (
	// StreamConsole is console output (~).
	StreamConsole StreamChannel = iota
	// StreamLog is the debugger's own log output (&).
	StreamLog
	// StreamTarget is output from the debuggee (@).
	StreamTarget
)

// String returns a human-readable channel name.
func (c StreamChannel) String() string {
	switch c {
	case StreamConsole:
		return "console"
	case StreamLog:
		return "log"
	case StreamTarget:
		return "target"
	default:
		return "unknown"
	}
}

// Record is one classified MI protocol line. Result, async, and notify
// records carry a class name and a mapping payload; stream records carry
// a channel and unescaped text.
type Record struct {
	Kind    RecordKind
	Class   string
	Payload Value
	Stream  StreamChannel
	Text    string
}

// ParseLine classifies one raw protocol line (trailing newline already
// stripped). Lines that match no recognized prefix, including the
// "(gdb)" prompt and banners, yield (nil, false) and are meant to be
// dropped silently.
func ParseLine(line string) (*Record, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	prefix := line[0]
	body := line[1:]

	switch prefix {
	case '~', '&', '@':
		channel := StreamConsole
		switch prefix {
		case '&':
			channel = StreamLog
		case '@':
			channel = StreamTarget
		}
		text := body
		if strings.HasPrefix(body, "\"") {
			text = unquoteString(body)
		}
		return &Record{Kind: KindStream, Stream: channel, Text: text}, true

	case '^', '*', '=':
		class, rest, _ := strings.Cut(body, ",")
		payload := parsePayload(rest)

		kind := KindResult
		switch prefix {
		case '*':
			kind = KindAsync
		case '=':
			kind = KindNotify
		}
		return &Record{Kind: kind, Class: strings.TrimSpace(class), Payload: payload}, true
	}

	return nil, false
}

// parsePayload splits the portion after the class at top level and
// parses each key=value entry into a mapping. Entries without a key are
// skipped.
func parsePayload(rest string) Value {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return MappingValue()
	}

	var items []Item
	for _, part := range splitTop(rest, ',') {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		items = append(items, Item{
			Key:   strings.TrimSpace(key),
			Value: ParseValue(val),
		})
	}
	return MappingValue(items...)
}
