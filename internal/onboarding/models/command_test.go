package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"SUPPRIMER", Command{Kind: CommandDelete}, true},
		{"supprimer", Command{Kind: CommandDelete}, true},
		{"Delete!", Command{Kind: CommandDelete}, true},
		{"exporter", Command{Kind: CommandExport}, true},
		{"aide", Command{Kind: CommandHelp}, true},
		{"arrêt", Command{Kind: CommandStop}, true},
		{"CONFIRMER 123456", Command{Kind: CommandConfirm, Argument: "123456"}, true},
		{"confirm 123456", Command{Kind: CommandConfirm, Argument: "123456"}, true},
		{"annuler.", Command{Kind: CommandCancel}, true},
		{"stop 12", Command{}, false},
		{"il faut stop la pollution", Command{}, false},
		{"bonjour", Command{}, false},
		{"", Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCommand(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStageClassification(t *testing.T) {
	for _, stage := range AllStages() {
		assert.True(t, stage.IsValid())
		assert.False(t, stage.IsSide() && stage.IsTerminal(), stage)
	}
	_, err := ParseStage("collecting_pet_name")
	assert.Error(t, err)
}

func TestParseCommandConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				got, ok := ParseCommand("supprimer")
				assert.True(t, ok)
				assert.Equal(t, CommandDelete, got.Kind)
			}
		}()
	}
	wg.Wait()
}
