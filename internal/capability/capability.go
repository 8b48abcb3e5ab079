// Package capability implements the unordered key/value offer map used by
// the Directory to describe what a replica can serve, and the subset-match
// rule used to decide whether a query is satisfied by an offer.
//
// The Registry's (model_name, model_version) addressing is the two-key
// special case of the same idea: a query matches an offer iff every key in
// the query is present in the offer with an identical value.
package capability

// Offer is an unordered set of key/value pairs describing what a replica
// provides, e.g. {"type": "chat", "model": "llama3"}.
type Offer map[string]string

// Query is a request for a capability; it uses the same shape as Offer.
type Query map[string]string

// Matches reports whether offer satisfies query: every key present in query
// must be present in offer with the same value. An empty query matches any
// offer. Offer keys absent from query are ignored.
func Matches(query Query, offer Offer) bool {
	for k, v := range query {
		got, ok := offer[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// FromModelKey builds the two-key special-case query for the simplified
// (model_name, model_version) Registry addressing scheme described in the
// data model: version == "" means "any version" and is therefore omitted
// from the query rather than encoded as an explicit empty-string match.
func FromModelKey(modelName, modelVersion string) Query {
	q := Query{"name": modelName}
	if modelVersion != "" {
		q["version"] = modelVersion
	}
	return q
}

// OfferFromModelKey builds the offer a Worker advertises for a given
// (model_name, model_version) pair, honoring the same two-key convention.
func OfferFromModelKey(modelName, modelVersion string) Offer {
	o := Offer{"name": modelName}
	if modelVersion != "" {
		o["version"] = modelVersion
	}
	return o
}
