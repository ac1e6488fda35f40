package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gigchat/gigchat/internal/chat"
)

// sessionFile is the persisted login state under ~/.gigchat/session.yaml.
type sessionFile struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	User      struct {
		ID          string `yaml:"id"`
		Username    string `yaml:"username"`
		DisplayName string `yaml:"display_name"`
		Role        string `yaml:"role"`
	} `yaml:"user"`
}

func (s *sessionFile) participant() chat.Participant {
	return chat.Participant{
		ID:          s.User.ID,
		DisplayName: s.User.DisplayName,
		Role:        s.User.Role,
	}
}

func sessionFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".gigchat", "session.yaml"), nil
}

func saveSessionFile(s *sessionFile) error {
	path, err := sessionFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func loadSessionFile() (*sessionFile, error) {
	path, err := sessionFilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("not logged in; run gigchat login first")
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s sessionFile
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	if s.Token == "" || s.User.ID == "" {
		return nil, errors.New("session file incomplete; run gigchat login again")
	}
	return &s, nil
}
