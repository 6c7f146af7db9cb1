package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimes/labelsync/config"
	"github.com/dimes/labelsync/cvat"
)

func TestParseTaskConfig(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		labels []config.Label
	}{
		{
			name:   "pairs",
			raw:    `{"name": "t1", "labels": [["car", "rectangle"], ["road", "polygon"]]}`,
			labels: []config.Label{{Name: "car", Type: cvat.LabelRectangle}, {Name: "road", Type: cvat.LabelPolygon}},
		},
		{
			name:   "mapping labels",
			raw:    `{"name": "t1", "labels": [{"name": "car", "type": "points"}, {"name": "sky"}]}`,
			labels: []config.Label{{Name: "car", Type: cvat.LabelPoints}, {Name: "sky", Type: cvat.LabelAny}},
		},
		{
			name:   "name only pair",
			raw:    `{"name": "t1", "labels": [["car"]]}`,
			labels: []config.Label{{Name: "car", Type: cvat.LabelAny}},
		},
		{
			name:   "unknown fields are ignored",
			raw:    `{"name": "t1", "owner": "me", "labels": [{"name": "car", "type": "tag", "color": "red"}]}`,
			labels: []config.Label{{Name: "car", Type: cvat.LabelTag}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			taskConfig, err := config.ParseTaskConfig(test.raw)
			require.NoError(t, err)
			assert.Equal(t, "t1", taskConfig.Name)
			assert.Equal(t, test.labels, taskConfig.Labels)
		})
	}
}

func TestParseTaskConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: "  "},
		{name: "not a document", raw: `{"name": "t1", "labels": [`},
		{name: "no name", raw: `{"labels": [["car", "rectangle"]]}`},
		{name: "no labels", raw: `{"name": "t1", "labels": []}`},
		{name: "unknown type", raw: `{"name": "t1", "labels": [["car", "circle"]]}`},
		{name: "repeated label", raw: `{"name": "t1", "labels": [["car", "rectangle"], ["car", "polygon"]]}`},
		{name: "too many values", raw: `{"name": "t1", "labels": [["car", "rectangle", "red"]]}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := config.ParseTaskConfig(test.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestParseTaskConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: t1\nlabels:\n  - [car, rectangle]\n"), 0644))

	taskConfig, err := config.ParseTaskConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "t1", taskConfig.Name)
	assert.Equal(t, `{"name": "t1", "labels": [["car", "rectangle"]]}`, taskConfig.String())

	reparsed, err := config.ParseTaskConfig(taskConfig.String())
	require.NoError(t, err)
	assert.Equal(t, taskConfig, reparsed)

	_, err = config.ParseTaskConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, config.ErrInvalid)
}
