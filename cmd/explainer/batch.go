package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-explainer/internal/explainer/content"
)

type batchEntry struct {
	Topic  string `yaml:"topic"`
	Level  string `yaml:"level"`
	Domain string `yaml:"domain"`
}

// readBatch loads a YAML list of topic requests. A missing level defaults to
// introductory.
func readBatch(path string) ([]content.TopicRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	var entries []batchEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("batch %s has no entries", path)
	}
	out := make([]content.TopicRequest, 0, len(entries))
	for i, e := range entries {
		req, err := parseRequest(e.Topic, e.Level, e.Domain)
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		out = append(out, req)
	}
	return out, nil
}

func parseRequest(topic, level, domain string) (content.TopicRequest, error) {
	if level == "" {
		level = string(content.LevelIntroductory)
	}
	l, err := content.ParseLevel(level)
	if err != nil {
		return content.TopicRequest{}, err
	}
	d, err := content.ParseDomain(domain)
	if err != nil {
		return content.TopicRequest{}, err
	}
	req := content.TopicRequest{Topic: topic, Level: l, Domain: d}
	if err := req.Validate(); err != nil {
		return content.TopicRequest{}, err
	}
	return req, nil
}
