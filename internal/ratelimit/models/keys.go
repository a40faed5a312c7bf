package models

// Keys never contain a plaintext address: inbound keys are built from the
// conversation's blind index or lookup hash.

func NewInboundKey(lookupKey string) string {
	return "rl:inbound:" + lookupKey
}

func NewIPKey(scope, ip string) string {
	return "rl:ip:" + scope + ":" + ip
}
