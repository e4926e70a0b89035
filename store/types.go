package store

// Project is a solar installation site.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	AHJ       string `json:"ahj"` // authority having jurisdiction
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Run is one recorded permit-package run.
type Run struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Status       string         `json:"status"`
	OutputPath   string         `json:"output_path"`
	BlobKey      string         `json:"blob_key"`
	ProcessingMs int64          `json:"processing_ms"`
	Total        int            `json:"total"`
	Found        int            `json:"found"`
	Cached       int            `json:"cached"`
	Missing      int            `json:"missing"`
	SuccessRate  float64        `json:"success_rate"`
	ReportJSON   string         `json:"-"`
	CreatedAt    int64          `json:"created_at"`
	Components   []RunComponent `json:"components,omitempty"`
}

// RunComponent is the final match of one BOM row in a run.
type RunComponent struct {
	RowIndex     int    `json:"row_index"`
	PartName     string `json:"part_name"`
	PartNumber   string `json:"part_number"`
	Manufacturer string `json:"manufacturer"`
	Quantity     int    `json:"quantity"`
	Status       string `json:"status"`
	Origin       string `json:"origin"`
	ResolvedPath string `json:"resolved_path"`
	Message      string `json:"message"`
}

// Note is a Markdown capture of a product page kept for manual review.
type Note struct {
	ID         string `json:"id"`
	PartNumber string `json:"part_number"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Markdown   string `json:"markdown"`
	FetchedAt  int64  `json:"fetched_at"`
}
