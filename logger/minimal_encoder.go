package logger

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// ANSI palette for console output (gruvbox-derived, easy on the eyes).
const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"

	colorGray   = "\x1b[38;5;245m" // timestamps
	colorBlue   = "\x1b[38;5;109m" // component names, IDs
	colorOrange = "\x1b[38;5;208m" // stage markers
	colorPurple = "\x1b[38;5;175m" // numbers
	colorFg     = "\x1b[38;5;223m" // base text

	colorYellow   = "\x1b[38;5;214m"
	colorYellowBg = "\x1b[48;5;237m"
	colorRed      = "\x1b[38;5;167m"
	colorRedBg    = "\x1b[48;5;237m"
)

var bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// minimalEncoder implements a calm, compact console encoder
// Format: "13:04:35  scheduler  Job dispatched  job_7f3k2m9qax4"
type minimalEncoder struct {
	zapcore.Encoder // Embed a base encoder for field serialization
	buf             *buffer.Buffer
}

func newMinimalEncoder() *minimalEncoder {
	// Create a base JSON encoder for field serialization (internal use only)
	baseEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	return &minimalEncoder{
		Encoder: baseEncoder,
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	// Time
	final.AppendString(colorGray)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level: only shown for non-INFO, with bold + background for WARN/ERROR
	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	// Component name (abbreviated) for visual grouping
	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorBlue)
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	// Message: colorize bracketed contexts like [job:job_...] and [upload]
	final.AppendString("  ")
	final.AppendString(colorizeMessage(ent.Message))

	// Fields: extract and color values
	if len(fields) > 0 {
		if rendered := extractFieldValues(fields); rendered != "" {
			final.AppendString("  ")
			final.AppendString(rendered)
		}
	}

	final.AppendString("\n")
	return final, nil
}

// levelColorString returns bold + colored + background for WARN/ERROR
func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + colorYellowBg + colorYellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + colorRedBg + colorRed + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorRedBg + colorRed + "FATAL" + colorReset
	case zapcore.DebugLevel:
		return colorGray + "DEBUG" + colorReset
	default:
		return level.CapitalString()
	}
}

// abbreviateName shortens dotted logger names: "studio.scheduler" -> "s.scheduler"
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

// colorizeMessage highlights bracketed contexts within a message.
// [job:XXX] renders the ID in blue, stage markers like [upload] in orange.
func colorizeMessage(msg string) string {
	matches := bracketPattern.FindAllStringSubmatchIndex(msg, -1)
	if len(matches) == 0 {
		return colorFg + msg + colorReset
	}

	result := strings.Builder{}
	lastIndex := 0

	for _, match := range matches {
		if textBefore := msg[lastIndex:match[0]]; textBefore != "" {
			result.WriteString(colorFg)
			result.WriteString(textBefore)
			result.WriteString(colorReset)
		}

		content := msg[match[2]:match[3]]
		color := colorOrange
		if strings.HasPrefix(content, "job:") {
			color = colorBlue
		}

		result.WriteString(colorFg)
		result.WriteString("[")
		result.WriteString(color)
		result.WriteString(content)
		result.WriteString(colorReset)
		result.WriteString(colorFg)
		result.WriteString("]")
		result.WriteString(colorReset)

		lastIndex = match[1]
	}

	if remaining := msg[lastIndex:]; remaining != "" {
		result.WriteString(colorFg)
		result.WriteString(remaining)
		result.WriteString(colorReset)
	}

	return result.String()
}

// extractFieldValues renders structured fields compactly. Well-known ID and
// timing fields get dedicated coloring; everything else falls through to
// key=value so that no field is ever silently dropped.
func extractFieldValues(fields []zapcore.Field) string {
	var values []string

	for _, field := range fields {
		switch field.Key {
		case "job_id", "schedule_id", "slot_id", "client_id":
			// Bare IDs in blue; the key is implied by the ID prefix
			if val := getFieldValue(field); val != "" {
				values = append(values, colorBlue+val+colorReset)
			}
		case "duration_ms":
			if val := getFieldValue(field); val != "" {
				values = append(values, colorPurple+val+colorReset+"ms")
			}
		case "progress":
			if val := getFieldValue(field); val != "" {
				values = append(values, colorPurple+val+colorReset+"%")
			}
		case "error":
			if val := getFieldValue(field); val != "" {
				values = append(values, colorRed+"error="+val+colorReset)
			}
		default:
			val := getFieldValue(field)
			if val == "" && field.Key == "" {
				continue // zap.Error(nil) produces an empty field
			}
			values = append(values, colorFg+field.Key+"="+colorReset+val)
		}
	}

	return strings.Join(values, " ")
}

// getFieldValue extracts a printable value from a zap field regardless of type
func getFieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.BoolType:
		if field.Integer == 1 {
			return "true"
		}
		return "false"
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.Float64Type:
		return formatFloat(math.Float64frombits(uint64(field.Integer)))
	case zapcore.Float32Type:
		return formatFloat(float64(math.Float32frombits(uint32(field.Integer))))
	case zapcore.DurationType:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok && err != nil {
			return err.Error()
		}
		return ""
	}

	// Interface-typed fields (zap.Any, zap.Strings, etc.)
	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}
	if field.String != "" {
		return field.String
	}
	if field.Integer != 0 {
		return fmt.Sprintf("%d", field.Integer)
	}
	return ""
}

// formatFloat trims trailing zeros: 0.800000 -> 0.8, 3.000000 -> 3
func formatFloat(f float64) string {
	s := strings.TrimRight(fmt.Sprintf("%f", f), "0")
	return strings.TrimRight(s, ".")
}
