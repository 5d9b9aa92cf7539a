// Package normalize turns the JSON payloads of Clash-compatible control APIs into
// typed values.
//
// Clash, Clash Premium, Clash.Meta (mihomo) and sing-box's clash-api all answer the
// same endpoints with slightly different shapes: optional fields, different flag
// sets in /version, pseudo providers in /providers/proxies. Every decoder here
// tolerates those differences and reports a *ProtocolError when a payload matches
// none of the known schemas.
package normalize
