package command

import "sort"

var (
	langField = Field{Name: "lang", Aliases: []string{"language"}, Type: FieldString, Required: true}
	fileField = Field{Name: "file", Aliases: []string{"source", "src"}, Type: FieldFile, Required: true}
	idField   = Field{Name: "id", Aliases: []string{"submission_id"}, Type: FieldString, Required: true}
)

// Registry returns all REPL commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:    "run",
			Summary: "compile and run a file once, printing its output",
			Fields: []Field{
				langField,
				fileField,
				{Name: "input", Aliases: []string{"stdin"}, Type: FieldFile},
			},
		},
		{
			Name:    "judge",
			Summary: "judge a file against a tests directory or a problem.toml",
			Fields: []Field{
				langField,
				fileField,
				{Name: "tests", Type: FieldDir},
				{Name: "problem", Type: FieldFile},
				{Name: "time_limit", Aliases: []string{"tl"}, Type: FieldDuration},
			},
		},
		{
			Name:    "langs",
			Summary: "list supported languages",
		},
		{
			Name:    "submit",
			Summary: "send a file to the judge service and watch the verdict",
			Remote:  true,
			Fields: []Field{
				{Name: "problem", Aliases: []string{"problem_id"}, Type: FieldInt64, Required: true},
				langField,
				fileField,
				{Name: "user", Aliases: []string{"user_id"}, Type: FieldInt64},
			},
		},
		{
			Name:    "status",
			Summary: "show the live status of a submission",
			Remote:  true,
			Fields:  []Field{idField},
		},
		{
			Name:    "watch",
			Summary: "stream status updates until the submission finishes",
			Remote:  true,
			Fields:  []Field{idField},
		},
		{
			Name:    "cancel",
			Summary: "cancel a running judging pass",
			Remote:  true,
			Fields:  []Field{idField},
		},
	}
	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns the command names in sorted order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
