package extractor

import (
	"fmt"

	"github.com/nmslite/ifstats/internal/model"
)

const (
	GroupMACStatistics = "ethernet-mac-statistics"
	GroupInputErrors   = "input-error-list"
)

// DefaultCommand is sent when the configuration names no command for a variant.
const DefaultCommand = "show interfaces extensive | display json | no-more"

// Field locates one counter inside a physical-interface object:
// <Group>[0].<Key>[0].data.
type Field struct {
	Name  string
	Label string
	Group string
	Key   string
}

// Schema is the ordered counter set of a run variant.
type Schema struct {
	Variant model.Variant
	Command string
	Fields  []Field
}

// Header returns the spreadsheet header row.
func (s Schema) Header() []string {
	header := make([]string, 0, len(s.Fields)+2)
	header = append(header, "Timestamp", "Interface")
	for _, f := range s.Fields {
		header = append(header, f.Label)
	}
	return header
}

// WithCommand returns a copy of s sending cmd instead of the default command.
func (s Schema) WithCommand(cmd string) Schema {
	if cmd != "" {
		s.Command = cmd
	}
	return s
}

var errorFields = []Field{
	{"input_multicasts", "input multicasts", GroupMACStatistics, "input-multicasts"},
	{"output_multicasts", "output multicasts", GroupMACStatistics, "output-multicasts"},
	{"input_broadcasts", "input broadcasts", GroupMACStatistics, "input-broadcasts"},
	{"output_broadcasts", "output broadcasts", GroupMACStatistics, "output-broadcasts"},
	{"input_errors", "input errors", GroupInputErrors, "input-errors"},
	{"input_drops", "input drops", GroupInputErrors, "input-drops"},
	{"framing_errors", "framing errors", GroupInputErrors, "framing-errors"},
	{"input_runts", "input runts", GroupInputErrors, "input-runts"},
	{"input_discards", "input discards", GroupInputErrors, "input-discards"},
	{"input_l3_incompletes", "input l3 incompletes", GroupInputErrors, "input-l3-incompletes"},
	{"input_l2_channel_errors", "input l2 channel errors", GroupInputErrors, "input-l2-channel-errors"},
	{"input_l2_mismatch_timeouts", "input l2 mismatch timeouts", GroupInputErrors, "input-l2-mismatch-timeouts"},
	{"input_fifo_errors", "input fifo errors", GroupInputErrors, "input-fifo-errors"},
	{"input_resource_errors", "input resource errors", GroupInputErrors, "input-resource-errors"},
}

var packetFields = []Field{
	{"input_packets", "input packets", GroupMACStatistics, "input-packets"},
	{"output_packets", "output packets", GroupMACStatistics, "output-packets"},
	{"input_unicasts", "input unicasts", GroupMACStatistics, "input-unicasts"},
	{"output_unicasts", "output unicasts", GroupMACStatistics, "output-unicasts"},
	{"input_broadcast_packets", "input broadcast packets", GroupMACStatistics, "input-broadcasts"},
	{"output_broadcast_packets", "output broadcast packets", GroupMACStatistics, "output-broadcasts"},
	{"input_multicast_packets", "input multicast packets", GroupMACStatistics, "input-multicasts"},
	{"output_multicast_packets", "output multicast packets", GroupMACStatistics, "output-multicasts"},
}

// SchemaFor returns the schema of a variant.
func SchemaFor(v model.Variant) (Schema, error) {
	if !v.Valid() {
		return Schema{}, fmt.Errorf("unknown variant %q", v)
	}
	fields := errorFields
	if v == model.VariantPackets {
		fields = packetFields
	}
	return Schema{Variant: v, Command: DefaultCommand, Fields: fields}, nil
}
