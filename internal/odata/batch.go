package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type batchRequest struct {
	Requests []batchItem `json:"requests"`
}

type batchItem struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type batchResponse struct {
	Responses []batchResult `json:"responses"`
}

type batchResult struct {
	ID      string            `json:"id,omitempty"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// batch executes the requests of a JSON $batch payload in order.
func (s *Server) batch(ctx context.Context, req *Request, route *Route) (*Response, error) {
	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return nil, &Error{
			Status:  http.StatusUnsupportedMediaType,
			Code:    "UNSUPPORTED_MEDIA_TYPE",
			Message: "$batch requests must use application/json",
		}
	}
	var br batchRequest
	if err := json.Unmarshal(req.Body, &br); err != nil {
		return nil, BadRequest("invalid $batch payload: %v", err)
	}
	if s.maxBatch > 0 && len(br.Requests) > s.maxBatch {
		return nil, BadRequest("$batch contains %d requests, the limit is %d", len(br.Requests), s.maxBatch)
	}

	base, err := url.Parse(serviceRoot(req, route) + "/")
	if err != nil {
		return nil, BadRequest("invalid service root: %v", err)
	}

	out := batchResponse{Responses: make([]batchResult, 0, len(br.Requests))}
	for _, item := range br.Requests {
		out.Responses = append(out.Responses, s.batchItem(ctx, req, base, item))
	}
	return jsonResponse(http.StatusOK, out)
}

func (s *Server) batchItem(ctx context.Context, parent *Request, base *url.URL, item batchItem) batchResult {
	result := batchResult{ID: item.ID}
	ref, err := url.Parse(item.URL)
	if err != nil || item.Method == "" {
		resp := errorResponse(parent.ID, BadRequest("batch request %q needs a method and a valid url", item.ID))
		result.Status, result.Body = resp.Status, resp.Body
		return result
	}

	header := http.Header{}
	for k, v := range item.Headers {
		header.Set(k, v)
	}
	var body []byte
	if len(item.Body) > 0 && !bytes.Equal(item.Body, []byte("null")) {
		body = item.Body
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}
	sub := &Request{
		Method: strings.ToUpper(item.Method),
		URL:    base.ResolveReference(ref),
		Header: header,
		Body:   body,
		ID:     parent.ID,
	}

	ctx, span := tracer.Start(ctx, "odata batch "+sub.Method)
	defer span.End()
	resp, err := s.serve(ctx, sub, true)
	if err != nil {
		e, known := asError(err)
		if !known {
			s.logger.Error("odata batch request failed",
				zap.String("request_id", parent.ID),
				zap.String("batch_item", item.ID),
				zap.Error(err),
			)
		}
		resp = errorResponse(parent.ID, e)
	}
	result.Status = resp.Status
	result.Headers = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		result.Headers[k] = resp.Header.Get(k)
	}
	switch {
	case len(resp.Body) == 0:
	case json.Valid(resp.Body):
		result.Body = resp.Body
	default:
		result.Body, _ = json.Marshal(string(resp.Body))
	}
	return result
}
