package funcagent

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/archflow/archflow/archflowerr"
	"github.com/archflow/archflow/schema"
)

// parse decodes text according to format into the generic value shape the
// schema validator expects (map[string]any / []any / scalars).
func parse(format OutputFormat, text string) (any, error) {
	switch format {
	case FormatJSON, "":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, archflowerr.Wrap(archflowerr.KindValidation, "json_parse_failed", err.Error(), err)
		}
		return v, nil
	case FormatCSV:
		return parseCSV(text)
	case FormatXML:
		return parseXML(text)
	case FormatPlain:
		return map[string]any{"text": strings.TrimSpace(text)}, nil
	default:
		return nil, archflowerr.New(archflowerr.KindValidation, "unknown_output_format", fmt.Sprintf("unsupported output format %q", format))
	}
}

func parseCSV(text string) (any, error) {
	reader := csv.NewReader(strings.NewReader(text))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, archflowerr.Wrap(archflowerr.KindValidation, "csv_parse_failed", err.Error(), err)
	}
	if len(records) == 0 {
		return []any{}, nil
	}
	header := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// xmlNode is a generic element tree used to bridge encoding/xml's static
// decoding into the dynamic map/array shape the schema validator expects.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func parseXML(text string) (any, error) {
	var root xmlNode
	if err := xml.Unmarshal([]byte(text), &root); err != nil {
		return nil, archflowerr.Wrap(archflowerr.KindValidation, "xml_parse_failed", err.Error(), err)
	}
	return xmlNodeToMap(root), nil
}

func xmlNodeToMap(n xmlNode) map[string]any {
	out := make(map[string]any)
	for _, a := range n.Attrs {
		out["@"+a.Name.Local] = a.Value
	}
	if len(n.Children) == 0 {
		if text := strings.TrimSpace(n.Content); text != "" {
			out["_text"] = text
		}
		return out
	}
	for _, child := range n.Children {
		out[child.XMLName.Local] = xmlNodeToMap(child)
	}
	return out
}

// validateStructureOnly implements Hybrid mode: field names and types are
// checked but enum/pattern/range constraints are not.
func validateStructureOnly(s *schema.Schema, value any) []schema.ValidationError {
	structural := &schema.Schema{Name: s.Name, Strict: s.Strict}
	for _, f := range s.Fields {
		stripped := f
		stripped.Enum = nil
		stripped.Pattern = ""
		stripped.Min = nil
		stripped.Max = nil
		structural.Fields = append(structural.Fields, stripped)
	}
	return structural.Validate(value)
}
