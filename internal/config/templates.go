package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "resolve":
		return resolveTemplate, nil
	case "feed":
		return feedTemplate, nil
	case "manifest":
		return manifestTemplate, nil
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

const resolveTemplate = `sources = [
  "tcp://127.0.0.1:7400",
  "tcp://127.0.0.1:7401",
  "file://chains/side.chain.gz",
]
concurrent = true
parallelism = 0
max_rounds = 0
timeout = "30s"
dial_timeout = "5s"
dial_attempts = 3
dial_backoff = "250ms"
dial_backoff_max = "5s"
`

const feedTemplate = `id = "main"
addr = "127.0.0.1:7400"
admin_addr = "127.0.0.1:7480"
# POST /resolve requires "Authorization: Bearer <admin_token>".
admin_token = "change-me"
# /resolve may name chain files inside data_dir (default: chain_file's directory)
# and dial the feeds listed here besides addr.
data_dir = "chains"
resolve_feeds = ["127.0.0.1:7401"]
chain_file = "chains/main.chain"
chunk_bytes = 56
bytes_per_second = 0
write_timeout = "10s"
cors_origins = ["http://localhost:3000"]
`

const manifestTemplate = `[[chain]]
name = "main"
numbers = [0, 1, 2, 3, 4, 5, 6, 7, 8]

[[chain]]
name = "side"
file = "side.chain.gz"
fork_of = "main"
fork_at = 3
numbers = [4, 5, 6, 7, 8, 9, 10, 11]

[[chain]]
name = "short"
fork_of = "main"
fork_at = 3
numbers = [4, 5]
`
