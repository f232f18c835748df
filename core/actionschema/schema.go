// Package actionschema parses a UPnP service's SCPD document into the
// action/state-variable tables of model.ActionSchema and builds the XML
// fragment for one action argument from it.
//
// Grounded on the canonical action/argument/stateVariable/allowedValueList
// shape embedded in the fleet's own SCPD documents
// (server/dlna/device.go's contentDirectorySCPD/connectionManagerSCPD).
package actionschema

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/dlnacast/engine/model"
)

type scpdDocument struct {
	XMLName xml.Name `xml:"scpd"`
	ActionList struct {
		Action []scpdAction `xml:"action"`
	} `xml:"actionList"`
	ServiceStateTable struct {
		StateVariable []scpdStateVariable `xml:"stateVariable"`
	} `xml:"serviceStateTable"`
}

type scpdAction struct {
	Name        string `xml:"name"`
	ArgumentList struct {
		Argument []scpdArgument `xml:"argument"`
	} `xml:"argumentList"`
}

type scpdArgument struct {
	Name                 string `xml:"name"`
	Direction            string `xml:"direction"`
	RelatedStateVariable string `xml:"relatedStateVariable"`
}

type scpdStateVariable struct {
	Name          string `xml:"name"`
	DataType      string `xml:"dataType"`
	AllowedValueList struct {
		AllowedValue []string `xml:"allowedValue"`
	} `xml:"allowedValueList"`
	AllowedValueRange struct {
		Minimum string `xml:"minimum"`
		Maximum string `xml:"maximum"`
		Step    string `xml:"step"`
	} `xml:"allowedValueRange"`
}

// Parse decodes a raw SCPD XML document into an ActionSchema.
func Parse(body []byte) (*model.ActionSchema, error) {
	var doc scpdDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, model.NewError(model.ErrKindMalformedXML, err)
	}

	schema := model.NewActionSchema()

	for _, sv := range doc.ServiceStateTable.StateVariable {
		entry := model.StateVariable{
			Name:     sv.Name,
			DataType: sv.DataType,
		}
		if len(sv.AllowedValueList.AllowedValue) > 0 {
			entry.AllowedValues = sv.AllowedValueList.AllowedValue
		}
		if sv.AllowedValueRange.Minimum != "" || sv.AllowedValueRange.Maximum != "" {
			entry.AllowedValueRange = &model.ValueRange{
				Min:  sv.AllowedValueRange.Minimum,
				Max:  sv.AllowedValueRange.Maximum,
				Step: sv.AllowedValueRange.Step,
			}
		}
		schema.StateVariables[sv.Name] = entry
	}

	for _, a := range doc.ActionList.Action {
		action := model.Action{Name: a.Name}
		for _, arg := range a.ArgumentList.Argument {
			dir := model.DirectionIn
			if strings.EqualFold(arg.Direction, "out") {
				dir = model.DirectionOut
			}
			action.Arguments = append(action.Arguments, model.ActionArgument{
				Name:                 arg.Name,
				Direction:            dir,
				RelatedStateVariable: arg.RelatedStateVariable,
			})
		}
		schema.Actions[a.Name] = action
	}

	return schema, nil
}

// BuildArgumentXML renders one In-direction argument as the XML element a
// SOAP action body expects: <Name dt:dt="TYPE">value</Name>, resolving
// enumerated state variables the way the spec requires (an exact,
// case-insensitive match on commandParam wins; otherwise the first
// enumerated value; otherwise the raw value verbatim).
func BuildArgumentXML(schema *model.ActionSchema, arg model.ActionArgument, value, commandParam string) string {
	if arg.Name == "InstanceID" {
		return "<InstanceID>0</InstanceID>"
	}

	sv, ok := schema.StateVariables[arg.RelatedStateVariable]
	if !ok {
		return fmt.Sprintf("<%s>%s</%s>", arg.Name, xmlEscape(value), arg.Name)
	}

	resolved := value
	if len(sv.AllowedValues) > 0 {
		resolved = sv.AllowedValues[0]
		for _, allowed := range sv.AllowedValues {
			if strings.EqualFold(allowed, commandParam) {
				resolved = allowed
				break
			}
		}
	}

	if sv.DataType == "" {
		return fmt.Sprintf("<%s>%s</%s>", arg.Name, xmlEscape(resolved), arg.Name)
	}
	return fmt.Sprintf(
		`<%s xmlns:dt="urn:schemas-microsoft-com:datatypes" dt:dt="%s">%s</%s>`,
		arg.Name, sv.DataType, xmlEscape(resolved), arg.Name,
	)
}

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
