package models

// StepDefinition is the read-only catalog view of a roadmap step.
type StepDefinition struct {
	ID        string         `json:"id" yaml:"id"`
	Title     string         `json:"title" yaml:"title"`
	Year      int            `json:"year" yaml:"year"`
	Resources []StepResource `json:"resources" yaml:"resources"`
}

type StepResource struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
	Type  string `json:"type" yaml:"type"`
}
