package app

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
		{"余分な引数は無視", []string{"worker", "--verbose"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}
