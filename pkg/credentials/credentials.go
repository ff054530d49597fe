// Package credentials keeps upstream API keys for the chat client, one per
// relay flavor, in credentials.toml inside the .wsrelay/ directory.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/wsrelay/pkg/dotdir"
	"github.com/papercomputeco/wsrelay/pkg/llm"
)

const (
	fileName = "credentials.toml"

	fileVersion = 1
)

// ErrUnsupportedFlavor is returned for flavor names the relay cannot address.
var ErrUnsupportedFlavor = errors.New("unsupported flavor")

// envVars maps each flavor to the variable that overrides its stored key.
// The apikey flavor is the one Azure OpenAI deployments use.
var envVars = map[llm.Flavor]string{
	llm.FlavorOpenAI: "OPENAI_API_KEY",
	llm.FlavorAPIKey: "AZURE_OPENAI_API_KEY",
}

// Flavors lists the upstream flavors a key can be stored for.
func Flavors() []llm.Flavor {
	return []llm.Flavor{llm.FlavorOpenAI, llm.FlavorAPIKey}
}

// FlavorNames is Flavors joined for help and error text.
func FlavorNames() string {
	names := make([]string, 0, len(envVars))
	for _, f := range Flavors() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}

// EnvVar returns the environment variable that overrides flavor's stored key.
func EnvVar(flavor llm.Flavor) string {
	return envVars[flavor]
}

// ParseFlavor accepts the same names and aliases the relay does ("azure" is
// apikey). An empty name is rejected since a key must belong to a flavor.
func ParseFlavor(name string) (llm.Flavor, error) {
	f, err := llm.ParseFlavor(name)
	if err != nil || f == "" {
		return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFlavor, name, FlavorNames())
	}
	return f, nil
}

// Store reads and writes credentials.toml.
type Store struct {
	path string
}

// Open resolves credentials.toml under override or the standard .wsrelay/
// directory. The file itself is created on first write.
func Open(override string) (*Store, error) {
	path, err := dotdir.NewManager().File(override, fileName)
	if err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// Path is the absolute path of credentials.toml.
func (s *Store) Path() string {
	return s.path
}

// Set stores cred for flavor, replacing any previous entry.
func (s *Store) Set(flavor llm.Flavor, cred Credential) error {
	if !slices.Contains(Flavors(), flavor) {
		return fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFlavor, flavor, FlavorNames())
	}
	cred.APIKey = strings.TrimSpace(cred.APIKey)
	if cred.APIKey == "" {
		return errors.New("API key cannot be empty")
	}
	cred.BaseURL = strings.TrimSpace(cred.BaseURL)

	f, err := s.load()
	if err != nil {
		return err
	}
	f.Upstreams[string(flavor)] = cred
	return s.save(f)
}

// Get returns the stored credential for flavor and whether one exists.
func (s *Store) Get(flavor llm.Flavor) (Credential, bool, error) {
	f, err := s.load()
	if err != nil {
		return Credential{}, false, err
	}
	cred, ok := f.Upstreams[string(flavor)]
	return cred, ok, nil
}

// Remove deletes flavor's entry and reports whether there was one.
func (s *Store) Remove(flavor llm.Flavor) (bool, error) {
	f, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := f.Upstreams[string(flavor)]; !ok {
		return false, nil
	}
	delete(f.Upstreams, string(flavor))
	return true, s.save(f)
}

// Stored lists the flavors with an entry, in Flavors order. Entries for
// flavors this build does not know are skipped.
func (s *Store) Stored() ([]llm.Flavor, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []llm.Flavor
	for _, flavor := range Flavors() {
		if _, ok := f.Upstreams[string(flavor)]; ok {
			out = append(out, flavor)
		}
	}
	return out, nil
}

// Resolve picks the key the chat client should send for flavor, which
// defaults to openai. The flavor's environment variable wins over the stored
// key; a stored base URL is kept either way. Source is SourceNone when no key
// was found.
func (s *Store) Resolve(flavor llm.Flavor) (Resolved, error) {
	if flavor == "" {
		flavor = llm.FlavorOpenAI
	}
	out := Resolved{Flavor: flavor}

	cred, ok, err := s.Get(flavor)
	if err != nil {
		return out, err
	}
	if ok {
		out.Credential = cred
		out.Source = SourceStored
	}

	if key := os.Getenv(EnvVar(flavor)); EnvVar(flavor) != "" && key != "" {
		out.APIKey = key
		out.Source = SourceEnv
	}
	return out, nil
}

// load returns an empty file when credentials.toml does not exist yet.
func (s *Store) load() (*file, error) {
	f := &file{Version: fileVersion}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading credentials: %w", err)
	default:
		if _, err := toml.Decode(string(data), f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", s.path, err)
		}
		if f.Version > fileVersion {
			return nil, fmt.Errorf("%s has version %d, this build reads up to %d", s.path, f.Version, fileVersion)
		}
	}

	if f.Upstreams == nil {
		f.Upstreams = make(map[string]Credential)
	}
	return f, nil
}

// save writes the file owner-only since it holds secrets.
func (s *Store) save(f *file) error {
	f.Version = fileVersion

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}
