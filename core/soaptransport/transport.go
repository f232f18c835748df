// Package soaptransport sends SOAP 1.1 actions and GENA
// SUBSCRIBE/UNSUBSCRIBE requests to a UPnP service and normalizes replies
// into a flat string map.
//
// Grounded on server/sonos_cast/avtransport.go and rendering.go's
// sendAction (envelope construction, SOAPACTION header, fault parsing) and
// server/dlna/control.go's struct-based envelope/fault shape.
package soaptransport

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dlnacast/engine/core/actionschema"
	"github.com/dlnacast/engine/core/metrics"
	"github.com/dlnacast/engine/log"
	"github.com/dlnacast/engine/model"
)

// Transport sends requests to one or more UPnP control points.
type Transport struct {
	client    *http.Client
	userAgent string
}

// New builds a Transport with the given per-request timeout and
// identifying User-Agent header.
func New(timeout time.Duration, userAgent string) *Transport {
	return &Transport{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// ArgValue is one In-direction argument to pass to Invoke.
type ArgValue struct {
	Arg          model.ActionArgument
	Value        string
	CommandParam string
}

// InvokeResult carries the flattened SOAP reply plus the measured
// round-trip time, used by the Device Session to derive a position offset.
type InvokeResult struct {
	Values      map[string]string
	RoundTrip   time.Duration
}

// PositionOffset is the measured round-trip time divided by 1.8,
// added to a subsequently polled position so the UI stays smooth despite
// network latency between the poll and its display.
func (r InvokeResult) PositionOffset() time.Duration {
	return time.Duration(float64(r.RoundTrip) / 1.8)
}

// FetchRaw GETs url and returns the raw body, for callers (like SCPD
// parsing) that need to hand it to a different unmarshaler.
func (t *Transport) FetchRaw(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, model.NewError(model.ErrKindNetwork, err)
	}
	t.setCommonHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, model.NewError(model.ErrKindNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewError(model.ErrKindNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewError(model.ErrKindNetwork, fmt.Errorf("GET %s: status %d", url, resp.StatusCode))
	}
	return body, nil
}

// FetchXML GETs url and unmarshals the body into dest.
func (t *Transport) FetchXML(ctx context.Context, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.NewError(model.ErrKindNetwork, err)
	}
	t.setCommonHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return model.NewError(model.ErrKindNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewError(model.ErrKindNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.NewError(model.ErrKindNetwork, fmt.Errorf("GET %s: status %d", url, resp.StatusCode))
	}
	if err := xml.Unmarshal(body, dest); err != nil {
		return model.NewError(model.ErrKindMalformedXML, err)
	}
	return nil
}

// Invoke sends one SOAP action to service and returns its flattened reply.
// headers carries the optional per-action HTTP headers of §4.1
// (contentFeatures.dlna.org and similar); a non-empty
// contentFeatures.dlna.org entry also gets transferMode.dlna.org:
// Streaming set automatically. headers may be nil.
func (t *Transport) Invoke(ctx context.Context, service model.ServiceDescription, schema *model.ActionSchema, actionName string, args []ArgValue, headers map[string]string) (InvokeResult, error) {
	var body strings.Builder
	for _, a := range args {
		if a.Arg.Direction == model.DirectionOut {
			continue
		}
		body.WriteString(actionschema.BuildArgumentXML(schema, a.Arg, a.Value, a.CommandParam))
	}

	envelope := fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?>`+
			`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`+
			`<s:Body><u:%s xmlns:u="%s">%s</u:%s></s:Body></s:Envelope>`,
		actionName, service.ServiceType, body.String(), actionName,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, service.ControlURL, bytes.NewBufferString(envelope))
	if err != nil {
		return InvokeResult{}, model.NewError(model.ErrKindNetwork, err)
	}
	t.setCommonHeaders(req)
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, service.ServiceType, actionName))
	for k, v := range headers {
		if v == "" {
			continue
		}
		req.Header.Set(k, v)
	}
	if cf := headers["contentFeatures.dlna.org"]; cf != "" {
		req.Header.Set("transferMode.dlna.org", "Streaming")
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	rtt := time.Since(start)
	if err != nil {
		return InvokeResult{}, model.NewError(model.ErrKindNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return InvokeResult{}, model.NewError(model.ErrKindNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.SoapFaults.WithLabelValues(actionName).Inc()
		if fault := parseSOAPFault(respBody); fault != nil {
			return InvokeResult{}, fault
		}
		return InvokeResult{}, model.NewError(model.ErrKindSoapFault, fmt.Errorf("%s failed: status %d", actionName, resp.StatusCode))
	}

	values, err := flattenSOAPResponse(respBody)
	if err != nil {
		log.Warn(ctx, "failed to flatten SOAP response", "action", actionName, err)
		return InvokeResult{RoundTrip: rtt}, nil
	}
	return InvokeResult{Values: values, RoundTrip: rtt}, nil
}

// Subscribe issues a GENA SUBSCRIBE request and returns the granted SID.
func (t *Transport) Subscribe(ctx context.Context, service model.ServiceDescription, callbackURL string, existingSID string, timeout time.Duration) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", service.EventSubURL, nil)
	if err != nil {
		return "", model.NewError(model.ErrKindNetwork, err)
	}
	if existingSID != "" {
		req.Header.Set("SID", existingSID)
	} else {
		req.Header.Set("CALLBACK", "<"+callbackURL+">")
		req.Header.Set("NT", "upnp:event")
	}
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", int(timeout.Seconds())))

	resp, err := t.client.Do(req)
	if err != nil {
		return "", model.NewError(model.ErrKindNetwork, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", model.NewError(model.ErrKindNetwork, fmt.Errorf("subscribe failed: status %d", resp.StatusCode))
	}
	return resp.Header.Get("SID"), nil
}

// Unsubscribe issues a GENA UNSUBSCRIBE request. Always best-effort: the
// caller logs but does not fail teardown on error.
func (t *Transport) Unsubscribe(ctx context.Context, service model.ServiceDescription, sid string) error {
	if sid == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", service.EventSubURL, nil)
	if err != nil {
		return model.NewError(model.ErrKindNetwork, err)
	}
	req.Header.Set("SID", sid)

	resp, err := t.client.Do(req)
	if err != nil {
		return model.NewError(model.ErrKindNetwork, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *Transport) setCommonHeaders(req *http.Request) {
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	req.Header.Set("Accept", "text/xml")
}

// parseSOAPFault string-searches a non-200 body for a UPnP error detail,
// mirroring avtransport.go's parseSOAPFault rather than requiring a fully
// well-formed envelope (some renderers emit malformed fault bodies).
func parseSOAPFault(body []byte) *model.SoapFault {
	s := string(body)
	code := 0
	if start := strings.Index(s, "<errorCode>"); start >= 0 {
		start += len("<errorCode>")
		if end := strings.Index(s[start:], "</errorCode>"); end >= 0 {
			fmt.Sscanf(s[start:start+end], "%d", &code)
		}
	}
	desc := ""
	if start := strings.Index(s, "<errorDescription>"); start >= 0 {
		start += len("<errorDescription>")
		if end := strings.Index(s[start:], "</errorDescription>"); end >= 0 {
			desc = s[start : start+end]
		}
	}
	if code == 0 && desc == "" {
		return nil
	}
	return &model.SoapFault{Kind: model.ErrKindSoapFault, Code: code, Description: desc}
}

// flattenSOAPResponse walks the XML token stream under <Body> and collects
// every element's character data keyed by its local name, with nested
// elements additionally keyed "parent.local" (e.g. "item.id"), per the
// spec's flattening rule for DIDL-Lite-bearing replies.
func flattenSOAPResponse(body []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	values := map[string]string{}
	var stack []string
	var textBuf strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, model.NewError(model.ErrKindMalformedXML, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			stack = append(stack, el.Name.Local)
			textBuf.Reset()
			for _, attr := range el.Attr {
				values[el.Name.Local+"."+attr.Name.Local] = attr.Value
			}
		case xml.CharData:
			textBuf.Write(el)
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			local := stack[len(stack)-1]
			text := strings.TrimSpace(textBuf.String())
			if text != "" {
				values[local] = text
				if len(stack) > 1 {
					parent := stack[len(stack)-2]
					values[parent+"."+local] = text
				}
			}
			stack = stack[:len(stack)-1]
			textBuf.Reset()
		}
	}
	return values, nil
}
