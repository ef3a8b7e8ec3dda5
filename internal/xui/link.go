// ABOUTME: VLESS connection link and subscription URL builders
// ABOUTME: Assembles vless:// URIs from inbound stream settings

package xui

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// LinkBuilder renders connection links against the public endpoint users
// reach the server through, which may differ from the panel's own host.
type LinkBuilder struct {
	Domain           string
	SubscriptionPort int
}

// streamSettings is the subset of an inbound's streamSettings JSON the
// link builder needs
type streamSettings struct {
	Network         string `json:"network"`
	Security        string `json:"security"`
	RealitySettings struct {
		ServerNames []string `json:"serverNames"`
		ShortIDs    []string `json:"shortIds"`
		Settings    struct {
			PublicKey   string `json:"publicKey"`
			Fingerprint string `json:"fingerprint"`
			SpiderX     string `json:"spiderX"`
		} `json:"settings"`
	} `json:"realitySettings"`
}

// VLESSLink builds the vless:// URI for a client on an inbound. Query
// parameter order matters to some importing apps, so parameters are
// emitted in a fixed sequence rather than through url.Values (which
// sorts alphabetically).
func (b *LinkBuilder) VLESSLink(inbound *Inbound, client *InboundClient) (string, error) {
	var stream streamSettings
	if inbound.StreamSettings != "" {
		if err := json.Unmarshal([]byte(inbound.StreamSettings), &stream); err != nil {
			return "", fmt.Errorf("parsing stream settings: %w", err)
		}
	}

	network := stream.Network
	if network == "" {
		network = "tcp"
	}

	params := []kv{
		{"type", network},
		{"encryption", "none"},
	}

	if stream.Security == "reality" {
		reality := stream.RealitySettings
		params = append(params, kv{"security", "reality"})
		if pbk := reality.Settings.PublicKey; pbk != "" {
			params = append(params, kv{"pbk", pbk})
		}
		if fp := reality.Settings.Fingerprint; fp != "" {
			params = append(params, kv{"fp", fp})
		}
		if len(reality.ServerNames) > 0 {
			params = append(params, kv{"sni", reality.ServerNames[0]})
		}
		if len(reality.ShortIDs) > 0 {
			params = append(params, kv{"sid", reality.ShortIDs[0]})
		}
		if spx := reality.Settings.SpiderX; spx != "" {
			params = append(params, kv{"spx", spx})
		}
	} else if stream.Security != "" {
		params = append(params, kv{"security", stream.Security})
	}

	if client.Flow != "" {
		params = append(params, kv{"flow", client.Flow})
	}

	var query strings.Builder
	for i, p := range params {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(p.key)
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(p.value))
	}

	fragment := url.PathEscape(inbound.Remark + "-" + client.Email)

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		client.ID, b.Domain, inbound.Port, query.String(), fragment), nil
}

type kv struct {
	key   string
	value string
}

// SubscriptionURL returns the per-client subscription endpoint
func (b *LinkBuilder) SubscriptionURL(email string) string {
	return fmt.Sprintf("https://%s:%d/%s", b.Domain, b.SubscriptionPort, url.PathEscape(email))
}
