package ga

// batchGetRequest is the body of a v4 reports:batchGet call.
type batchGetRequest struct {
	ReportRequests []reportRequest `json:"reportRequests"`
}

type reportRequest struct {
	ViewID                 string          `json:"viewId"`
	PageSize               int             `json:"pageSize"`
	PageToken              string          `json:"pageToken,omitempty"`
	Dimensions             []wireDimension `json:"dimensions"`
	Metrics                []wireMetric    `json:"metrics"`
	DateRanges             []wireDateRange `json:"dateRanges"`
	DimensionFilterClauses []FilterClause  `json:"dimensionFilterClauses,omitempty"`
}

type wireDimension struct {
	Name string `json:"name"`
}

type wireMetric struct {
	Expression string `json:"expression"`
}

type wireDateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type batchGetResponse struct {
	Reports []report `json:"reports"`
}

type report struct {
	ColumnHeader  columnHeader `json:"columnHeader"`
	Data          reportData   `json:"data"`
	NextPageToken string       `json:"nextPageToken"`
}

type columnHeader struct {
	Dimensions []string `json:"dimensions"`
}

type reportData struct {
	Rows     []reportRow `json:"rows"`
	RowCount int         `json:"rowCount"`
}

type reportRow struct {
	Dimensions []string `json:"dimensions"`
}
