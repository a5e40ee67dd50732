package models

import "log/slog"

const redacted = "[redacted]"

// Secret is an opaque bearer secret (refresh token or verification
// token). It is a dedicated type so the value can't leak through
// logging or debug dumps: every textual rendering is redacted.
// Use string(s) at the transport boundary to hand it to the client.
type Secret string

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return "models.Secret(" + redacted + ")"
}

func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}
