package domain

import "time"

// Well-known component descriptions.
const (
	ComponentImageBuild      = "Image Build"
	ComponentHeatStack       = "Heat Stack"
	ComponentDockerContainer = "Docker Container"
)

// Supported source and image formats.
const (
	SourceHeroku     = "heroku"
	SourceDockerfile = "dockerfile"
	SourceDIB        = "dib"
	ImageDocker      = "docker"
	ImageQcow2       = "qcow2"
)

var supportedFormats = map[[2]string]bool{
	{SourceHeroku, ImageDocker}:     true,
	{SourceHeroku, ImageQcow2}:      true,
	{SourceDockerfile, ImageDocker}: true,
	{SourceDIB, ImageQcow2}:         true,
}

// NormalizeFormats fills empty formats with the heroku/docker defaults and
// reports whether the resulting pair can be built.
func NormalizeFormats(source, image string) (string, string, bool) {
	if source == "" {
		source = SourceHeroku
	}
	if image == "" {
		image = ImageDocker
	}
	return source, image, supportedFormats[[2]string{source, image}]
}

// Plan is a user-authored description of an application.
type Plan struct {
	ID          string
	ProjectID   string
	UserID      string
	Name        string
	Description string
	Artifacts   []Artifact
	CreatedAt   time.Time
}

// Artifact is one buildable unit inside a plan.
type Artifact struct {
	Name           string `json:"name"`
	Language       string `json:"language,omitempty"`
	SourceURI      string `json:"source_uri"`
	Revision       string `json:"revision,omitempty"`
	TestCmd        string `json:"test_cmd,omitempty"`
	RunCmd         string `json:"run_cmd,omitempty"`
	Ports          []int  `json:"ports,omitempty"`
	CredentialsRef string `json:"credentials_ref,omitempty"`
}

// Assembly is a deployable instance derived from a plan.
type Assembly struct {
	ID             string
	PlanID         string
	ProjectID      string
	UserID         string
	Name           string
	Description    string
	Status         AssemblyStatus
	ImageID        string
	ApplicationURI string
	Seq            uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Image is the artifact produced by a build.
type Image struct {
	ID              string
	ProjectID       string
	Name            string
	SourceURI       string
	SourceFormat    string
	ImageFormat     string
	BaseImageID     string
	Status          ImageStatus
	ExternalRef     string
	DockerImageName string
	CreatedImageID  string
	Reason          string
	Seq             uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Component attaches a named external resource to an assembly.
type Component struct {
	ID            string
	AssemblyID    string
	PlanID        string
	ProjectID     string
	Name          string
	Description   string
	ResourceURI   string
	ComponentType string
	CreatedAt     time.Time
}

// Userlog records where the log of one build stage was stored.
type Userlog struct {
	ID           string
	ResourceType string
	ResourceUUID string
	ProjectID    string
	Location     string
	Strategy     string
	StrategyInfo map[string]string
	CreatedAt    time.Time
}

// ImageUpdate is a sequenced change to an image record. Empty fields are left untouched.
type ImageUpdate struct {
	ImageID         string
	Status          ImageStatus
	Reason          string
	ExternalRef     string
	DockerImageName string
	CreatedImageID  string
	Seq             uint64
}

// AssemblyUpdate is a sequenced change to an assembly record. Empty fields are left untouched.
type AssemblyUpdate struct {
	AssemblyID     string
	Status         AssemblyStatus
	ImageID        string
	ApplicationURI string
	Seq            uint64
}
