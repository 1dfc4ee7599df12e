package domain

// NodeKind tags the semantic role of a node.
type NodeKind string

const (
	KindService NodeKind = "service"
	KindDB      NodeKind = "db"
	KindQueue   NodeKind = "queue"
	KindPage    NodeKind = "page"
	KindStep    NodeKind = "step"
)

// NodeKinds lists every accepted kind in declaration order.
var NodeKinds = []NodeKind{KindService, KindDB, KindQueue, KindPage, KindStep}

// GraphVariant selects which flavour of graph a text prompt produces.
type GraphVariant string

const (
	VariantSystem   GraphVariant = "system"
	VariantUserFlow GraphVariant = "user-flow"
)

// Kinds returns the node kinds a variant may use.
func (v GraphVariant) Kinds() []NodeKind {
	if v == VariantUserFlow {
		return []NodeKind{KindPage, KindStep}
	}
	return []NodeKind{KindService, KindDB, KindQueue, KindPage}
}

type GraphNode struct {
	ID    string         `json:"id" validate:"required"`
	Label string         `json:"label" validate:"required"`
	Group string         `json:"group,omitempty"`
	Kind  NodeKind       `json:"kind,omitempty" validate:"omitempty,oneof=service db queue page step"`
	Data  map[string]any `json:"data,omitempty"`
}

type GraphEdge struct {
	ID       string `json:"id" validate:"required"`
	Source   string `json:"source" validate:"required"`
	Target   string `json:"target" validate:"required"`
	Label    string `json:"label,omitempty"`
	Directed *bool  `json:"directed,omitempty"`
}

// Graph is the node/edge structure exchanged with the model and the renderer.
// Ids are expected to be unique and edges to reference node ids, but neither
// is enforced outside strict validation.
type Graph struct {
	Nodes []GraphNode `json:"nodes" validate:"required,dive"`
	Edges []GraphEdge `json:"edges" validate:"required,dive"`
}

// Normalized returns g with nil slices replaced by empty ones.
func (g Graph) Normalized() Graph {
	if g.Nodes == nil {
		g.Nodes = []GraphNode{}
	}
	if g.Edges == nil {
		g.Edges = []GraphEdge{}
	}
	return g
}

type StackType string

const (
	StackWeb        StackType = "web"
	StackMobile     StackType = "mobile"
	StackBackend    StackType = "backend"
	StackBlockchain StackType = "blockchain"
	StackAI         StackType = "ai"
)

// StackConfig describes a technology choice. Framework is deliberately not
// tied to Type here; see schema.CrossValidateStack.
type StackConfig struct {
	Type      StackType `json:"type" validate:"required,oneof=web mobile backend blockchain ai" enum:"web,mobile,backend,blockchain,ai"`
	Framework string    `json:"framework" validate:"required,oneof=nextjs react vue svelte angular react-native flutter expo express fastapi django nestjs gin rails anchor hardhat foundry langchain llamaindex" enum:"nextjs,react,vue,svelte,angular,react-native,flutter,expo,express,fastapi,django,nestjs,gin,rails,anchor,hardhat,foundry,langchain,llamaindex"`
	Features  []string  `json:"features" required:"false"`
	Database  string    `json:"database,omitempty" validate:"omitempty,oneof=postgres mysql mongodb sqlite redis supabase firebase" enum:"postgres,mysql,mongodb,sqlite,redis,supabase,firebase"`
	Auth      string    `json:"auth,omitempty" validate:"omitempty,oneof=clerk auth0 nextauth supabase firebase custom" enum:"clerk,auth0,nextauth,supabase,firebase,custom"`
	Styling   string    `json:"styling,omitempty" validate:"omitempty,oneof=tailwind css-modules styled-components chakra mui" enum:"tailwind,css-modules,styled-components,chakra,mui"`
}

type UserStory struct {
	ID                 string   `json:"id" validate:"required"`
	Title              string   `json:"title" validate:"required"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Priority           string   `json:"priority" validate:"oneof=High Medium Low"`
	Estimate           string   `json:"estimate" validate:"oneof=S M C"`
	Assignees          []string `json:"assignees"`
}

// FileNode is a recursive file tree entry. Content belongs to files and
// Children to directories by convention only.
type FileNode struct {
	Name     string     `json:"name" validate:"required"`
	Type     string     `json:"type" validate:"oneof=file directory"`
	Content  string     `json:"content,omitempty"`
	Children []FileNode `json:"children,omitempty" validate:"dive"`
}

type ProjectPlan struct {
	Title         string      `json:"title" validate:"required"`
	Description   string      `json:"description"`
	Stack         StackConfig `json:"stack"`
	Architecture  Graph       `json:"architecture"`
	UserStories   []UserStory `json:"userStories" validate:"dive"`
	FileStructure []FileNode  `json:"fileStructure" validate:"dive"`
}

type Recommendation struct {
	Choice  string   `json:"choice" validate:"required"`
	Reasons []string `json:"reasons"`
}

type StackRecommendation struct {
	Frontend   Recommendation   `json:"frontend"`
	Backend    Recommendation   `json:"backend"`
	Auth       Recommendation   `json:"auth"`
	Deployment Recommendation   `json:"deployment"`
	Additional []Recommendation `json:"additional" validate:"dive"`
}

type ScaffoldFile struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

type ScaffoldManifest struct {
	Files       []ScaffoldFile    `json:"files" validate:"required,dive"`
	Commands    []string          `json:"commands"`
	Environment map[string]string `json:"environment"`
}

type DocSection struct {
	Heading string `json:"heading" validate:"required"`
	Body    string `json:"body"`
}

type Document struct {
	Title         string       `json:"title" validate:"required"`
	Sections      []DocSection `json:"sections" validate:"dive"`
	Backlog       []string     `json:"backlog"`
	Risks         []string     `json:"risks"`
	OpenQuestions []string     `json:"open_questions"`
}

// Event is one generation audit record. It never carries model output.
type Event struct {
	ID          string `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Task        string `json:"task"`
	Status      string `json:"status" enum:"ok,empty,malformed,error"`
	DurationMS  int64  `json:"duration_ms"`
	Model       string `json:"model,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	OutputBytes int    `json:"output_bytes"`
}
