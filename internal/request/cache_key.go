package request

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/acesanderson/conduit/internal/model"
)

// volatileMessageFields are excluded from the cache key per §4.4:
// "messages_for_cache excludes volatile fields (timestamp, UUIDs)".
var volatileMessageFields = []string{"message_id", "timestamp", "predecessor_id", "session_id"}

// canonicalJSON sorts object keys recursively. encoding/json already
// marshals map[string]any with lexicographically sorted keys, so
// round-tripping any value through json.Unmarshal into `any` and back
// through json.Marshal yields the canonical form without a bespoke sorter.
func canonicalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// messagesForCache renders req.Messages into their canonical discriminated
// form with volatile fields stripped, suitable for hashing.
func messagesForCache(messages []model.Message) (string, error) {
	rendered := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		data, err := model.MarshalMessage(m)
		if err != nil {
			return "", err
		}
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", err
		}
		for _, f := range volatileMessageFields {
			delete(obj, f)
		}
		rendered = append(rendered, obj)
	}
	return canonicalJSON(rendered)
}

// schemaDigest canonicalizes a response-model JSON schema, or "none" when
// schema is nil.
func schemaDigest(schema any) (string, error) {
	if schema == nil {
		return "none", nil
	}
	return canonicalJSON(schema)
}

func optionalFloat(f *float64) string {
	if f == nil {
		return "none"
	}
	s, _ := canonicalJSON(*f)
	return s
}

func optionalInt(i *int) string {
	if i == nil {
		return "none"
	}
	s, _ := canonicalJSON(*i)
	return s
}

// CacheKey computes the deterministic cache key for req under the given
// provider, per §4.4:
//
//	SHA-256(join("|", model, canonical_json(messages), temperature,
//	  schema_digest, num_ctx, provider, canonical_json(client_params)))
//
// Two requests with the same cache key MUST be treated as identical by the
// cache (§8 invariant 1).
func CacheKey(req *Request, provider string) (string, error) {
	msgsJSON, err := messagesForCache(req.Messages)
	if err != nil {
		return "", err
	}
	digest, err := schemaDigest(req.Params.ResponseModel)
	if err != nil {
		return "", err
	}
	clientParamsJSON, err := canonicalJSON(req.Params.ClientParams)
	if err != nil {
		return "", err
	}

	parts := []string{
		req.Params.Model,
		msgsJSON,
		optionalFloat(req.Params.Temperature),
		digest,
		optionalInt(numCtx(req.Params)),
		provider,
		clientParamsJSON,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// numCtx extracts the num_ctx override from ClientParams when present,
// matching the local-inference-host convention (SPEC_FULL.md §2, §4.5).
func numCtx(p Params) *int {
	v, ok := p.ClientParams["num_ctx"]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case float64:
		i := int(n)
		return &i
	default:
		return nil
	}
}
