// Command generate prints the CI workflow:
//
//	go run ./.github/workflows > .github/workflows/test.yaml
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type PushTrigger struct {
	Branches []string `yaml:"branches,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

type Trigger struct {
	Push        PushTrigger  `yaml:"push,omitempty"`
	PullRequest *PushTrigger `yaml:"pull_request,omitempty"`
}

type Args map[string]interface{}

type Step struct {
	Name string `yaml:"name,omitempty"`
	If   string `yaml:"if,omitempty"`
	Uses string `yaml:"uses,omitempty"`
	ID   string `yaml:"id,omitempty"`
	Run  string `yaml:"run,omitempty"`
	With Args   `yaml:"with,omitempty"`
	Env  Args   `yaml:"env,omitempty"`
}

type Service struct {
	Image   string   `yaml:"image"`
	Env     Args     `yaml:"env,omitempty"`
	Ports   []string `yaml:"ports,omitempty"`
	Options string   `yaml:"options,omitempty"`
}

type Job struct {
	RunsOn   string             `yaml:"runs-on"`
	Services map[string]Service `yaml:"services,omitempty"`
	Steps    []Step             `yaml:"steps"`
}

type Workflow struct {
	Name string  `yaml:"name"`
	On   Trigger `yaml:"on,omitempty"`
	Jobs map[string]Job
}

// Postgres is the database the `pgdevice` tests run against; they skip
// themselves when `PG_HOST` is unset.
type Postgres struct {
	Image    string
	Password string
}

func WorkflowTest(goVersion string, pg *Postgres) Workflow {
	return Workflow{
		Name: "test",
		On: Trigger{
			Push:        PushTrigger{Branches: []string{"*"}},
			PullRequest: &PushTrigger{Branches: []string{"*"}},
		},
		Jobs: map[string]Job{"test": JobTest(goVersion, pg)},
	}
}

func JobTest(goVersion string, pg *Postgres) Job {
	return Job{
		RunsOn: "ubuntu-latest",
		Services: map[string]Service{
			"postgres": {
				Image: pg.Image,
				Env:   Args{"POSTGRES_PASSWORD": pg.Password},
				Ports: []string{"5432:5432"},
				Options: "--health-cmd pg_isready --health-interval 10s " +
					"--health-timeout 5s --health-retries 5",
			},
		},
		Steps: []Step{{
			Name: "Checkout",
			Uses: "actions/checkout@v4",
		}, {
			Name: "Set up Go",
			Uses: "actions/setup-go@v5",
			With: Args{"go-version": goVersion},
		}, {
			Name: "Vet",
			Run:  "go vet ./...",
		}, {
			Name: "Test",
			Run:  "go test -race ./...",
			Env: Args{
				"PG_HOST": "localhost",
				"PG_PASS": pg.Password,
			},
		}},
	}
}

func MarshalToWriter(w io.Writer, v interface{}) error {
	yamlEncoder := yaml.NewEncoder(w)
	yamlEncoder.SetIndent(2)
	if err := yamlEncoder.Encode(v); err != nil {
		return fmt.Errorf("marshaling to YAML: %w", err)
	}
	return nil
}

func main() {
	if err := MarshalToWriter(
		os.Stdout,
		WorkflowTest("1.24", &Postgres{Image: "postgres:16", Password: "postgres"}),
	); err != nil {
		log.Fatalf("marshaling test workflow: %v", err)
	}
}
