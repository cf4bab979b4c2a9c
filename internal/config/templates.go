package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client", "":
		return clientTemplate, nil
	case "peer":
		return peerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `# groupwire client configuration
server = "gw.example.com"
port = 8300
user = "alice"
# Prefer password_env over a literal password.
password_env = "GROUPWIRE_PASSWORD"
user_agent = "groupwire/1.0"
# client_ip = "10.0.0.5"

connect_timeout = "5s"
read_timeout = "2s"
write_timeout = "15s"
read_retry_budget = 10
read_retry_delay = "100ms"
max_connect_attempts = 3

[tls]
# Servers that require TLS redirect plaintext logins; ca_file is used then.
enabled = false
ca_file = "/etc/groupwire/ca.crt"
server_name = ""
insecure_skip_verify = false

[backoff]
initial = "250ms"
multiplier = 2.0
max = "30s"
jitter = true
`

const peerTemplate = `# groupwire local peer server
listen = "127.0.0.1:8300"
# tls_cert_file = "server.crt"
# tls_key_file = "server.key"
redirect_plaintext = false
read_timeout = "5m"

[[users]]
user_id = "alice"
dn = "cn=alice,o=example"
full_name = "Alice Example"
password = "change-me"

[[users]]
user_id = "bob"
dn = "cn=bob,o=example"
full_name = "Bob Example"
password = "change-me-too"
`
