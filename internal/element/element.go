// Package element defines the WorkQueue element: the schedulable,
// location-aware unit of work produced by splitting a workload task.
//
// An element's ID is a fingerprint of its identity-bearing fields (request,
// task, input names, mask, catalog URL and ACDC reference). Re-splitting the
// same input yields the same IDs, which is how duplicate injection is caught.
// Priority, progress, team, queue links, site lists and timestamps are mutable
// and never change the ID.
package element

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Input is one input reference (block or dataset) and the sites hosting it.
type Input struct {
	Name  string   `json:"name" bson:"name"`
	Sites []string `json:"sites,omitempty" bson:"sites,omitempty"`
}

// Mask narrows an element to a slice of its inputs. Zero fields are unbounded.
type Mask struct {
	FirstRun   int64 `json:"firstRun,omitempty" bson:"first_run,omitempty"`
	LastRun    int64 `json:"lastRun,omitempty" bson:"last_run,omitempty"`
	FirstLumi  int64 `json:"firstLumi,omitempty" bson:"first_lumi,omitempty"`
	LastLumi   int64 `json:"lastLumi,omitempty" bson:"last_lumi,omitempty"`
	FirstEvent int64 `json:"firstEvent,omitempty" bson:"first_event,omitempty"`
	LastEvent  int64 `json:"lastEvent,omitempty" bson:"last_event,omitempty"`
	// FirstFile/LastFile are 1-based offsets into a block's file list.
	FirstFile int `json:"firstFile,omitempty" bson:"first_file,omitempty"`
	LastFile  int `json:"lastFile,omitempty" bson:"last_file,omitempty"`
}

// ACDC references a failure-recovery collection.
type ACDC struct {
	Server     string `json:"server" bson:"server"`
	Database   string `json:"database" bson:"database"`
	Collection string `json:"collection" bson:"collection"`
	Fileset    string `json:"fileset" bson:"fileset"`
}

// Element is the unit of work tracked by a queue.
type Element struct {
	ID string `json:"id" bson:"_id"`

	// Identity-bearing.
	RequestName string  `json:"requestName" bson:"request_name"`
	TaskName    string  `json:"taskName" bson:"task_name"`
	Inputs      []Input `json:"inputs,omitempty" bson:"inputs,omitempty"`
	Mask        *Mask   `json:"mask,omitempty" bson:"mask,omitempty"`
	DbsURL      string  `json:"dbsUrl,omitempty" bson:"dbs_url,omitempty"`
	ACDC        *ACDC   `json:"acdc,omitempty" bson:"acdc,omitempty"`

	// Mutable.
	InputDataset    string    `json:"inputDataset,omitempty" bson:"input_dataset,omitempty"`
	Status          Status    `json:"status" bson:"status"`
	Jobs            int       `json:"jobs" bson:"jobs"`
	Priority        int       `json:"priority" bson:"priority"`
	PercentComplete int       `json:"percentComplete" bson:"percent_complete"`
	PercentSuccess  int       `json:"percentSuccess" bson:"percent_success"`
	Team            string    `json:"team,omitempty" bson:"team,omitempty"`
	SiteWhitelist   []string  `json:"siteWhitelist,omitempty" bson:"site_whitelist,omitempty"`
	SiteBlacklist   []string  `json:"siteBlacklist,omitempty" bson:"site_blacklist,omitempty"`
	ParentQueueURL  string    `json:"parentQueueUrl,omitempty" bson:"parent_queue_url,omitempty"`
	ParentQueueID   string    `json:"parentQueueId,omitempty" bson:"parent_queue_id,omitempty"`
	ChildQueue      string    `json:"childQueue,omitempty" bson:"child_queue,omitempty"`
	ProcessingType  string    `json:"processingType,omitempty" bson:"processing_type,omitempty"`
	NonRecoverable  bool      `json:"nonRecoverable,omitempty" bson:"non_recoverable,omitempty"`
	InsertID        string    `json:"insertId" bson:"insert_id"`
	CreationTime    time.Time `json:"creationTime" bson:"creation_time"`
	UpdateTime      time.Time `json:"updateTime" bson:"update_time"`

	// Child-side bookkeeping of what the parent copy last acknowledged.
	ReportedStatus   Status `json:"reportedStatus,omitempty" bson:"reported_status,omitempty"`
	ReportedProgress int    `json:"reportedProgress,omitempty" bson:"reported_progress,omitempty"`
}

type identity struct {
	Request string   `json:"request"`
	Task    string   `json:"task"`
	Inputs  []string `json:"inputs"`
	Mask    *Mask    `json:"mask,omitempty"`
	Dbs     string   `json:"dbs"`
	ACDC    *ACDC    `json:"acdc,omitempty"`
}

// ComputeID returns the fingerprint of e's identity-bearing fields.
func (e *Element) ComputeID() (string, error) {
	if e.RequestName == "" {
		return "", &ValidationError{Field: "requestName", Reason: "must not be empty"}
	}
	if e.TaskName == "" {
		return "", &ValidationError{Field: "taskName", Reason: "must not be empty"}
	}
	b, err := json.Marshal(identity{
		Request: e.RequestName,
		Task:    e.TaskName,
		Inputs:  e.InputNames(),
		Mask:    e.Mask,
		Dbs:     e.DbsURL,
		ACDC:    e.ACDC,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16]), nil
}

// AssignID computes the fingerprint and stores it. An already assigned ID
// that disagrees with the fingerprint is rejected.
func (e *Element) AssignID() error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	if e.ID != "" && e.ID != id {
		return &ValidationError{Field: "id", Reason: "id is immutable once assigned"}
	}
	e.ID = id
	return nil
}

// InputNames returns the sorted input reference names.
func (e *Element) InputNames() []string {
	names := make([]string, 0, len(e.Inputs))
	for _, in := range e.Inputs {
		names = append(names, in.Name)
	}
	sort.Strings(names)
	return names
}

// MonteCarlo reports whether e carries no input data.
func (e *Element) MonteCarlo() bool { return e.InputDataset == "" }

// Validate checks structural invariants.
func (e *Element) Validate() error {
	if e.RequestName == "" {
		return &ValidationError{Field: "requestName", Reason: "must not be empty"}
	}
	if e.TaskName == "" {
		return &ValidationError{Field: "taskName", Reason: "must not be empty"}
	}
	if e.Jobs < 0 {
		return &ValidationError{Field: "jobs", Reason: "must not be negative"}
	}
	if e.Jobs == 0 && e.Status == Available {
		return &ValidationError{Field: "jobs", Reason: "available elements need at least one job"}
	}
	if e.MonteCarlo() && len(e.Inputs) > 0 {
		return &ValidationError{Field: "inputs", Reason: "production elements carry no input"}
	}
	if !e.MonteCarlo() && len(e.Inputs) == 0 {
		return &ValidationError{Field: "inputs", Reason: "input elements need at least one input"}
	}
	if e.Status.Rank() < 0 {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(e.Status)}
	}
	return nil
}

// PossibleSites returns the sites e may run at. For input elements this is
// the intersection of every input's locations, filtered by white and black
// lists. Production elements inherit the whitelist; nil means any site not
// blacklisted.
func (e *Element) PossibleSites() []string {
	var sites []string
	if e.MonteCarlo() {
		if len(e.SiteWhitelist) == 0 {
			return nil
		}
		sites = append(sites, e.SiteWhitelist...)
	} else {
		sites = intersect(e.Inputs)
		if len(e.SiteWhitelist) > 0 {
			sites = keep(sites, e.SiteWhitelist)
		}
	}
	out := sites[:0]
	for _, s := range sites {
		if !contains(e.SiteBlacklist, s) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// AllowsSite reports whether e may run at site.
func (e *Element) AllowsSite(site string) bool {
	if contains(e.SiteBlacklist, site) {
		return false
	}
	if e.MonteCarlo() && len(e.SiteWhitelist) == 0 {
		return true
	}
	return contains(e.PossibleSites(), site)
}

// NeedsReport reports whether a child copy has state its parent has not seen.
func (e *Element) NeedsReport() bool {
	if e.ParentQueueID == "" {
		return false
	}
	return e.ReportedStatus != e.Status.ParentStatus() || e.ReportedProgress != e.PercentComplete
}

// Clone returns a deep copy of e.
func (e *Element) Clone() *Element {
	c := *e
	if e.Inputs != nil {
		c.Inputs = make([]Input, len(e.Inputs))
		for i, in := range e.Inputs {
			c.Inputs[i] = Input{Name: in.Name, Sites: append([]string(nil), in.Sites...)}
		}
	}
	if e.Mask != nil {
		m := *e.Mask
		c.Mask = &m
	}
	if e.ACDC != nil {
		a := *e.ACDC
		c.ACDC = &a
	}
	c.SiteWhitelist = append([]string(nil), e.SiteWhitelist...)
	c.SiteBlacklist = append([]string(nil), e.SiteBlacklist...)
	return &c
}

func intersect(inputs []Input) []string {
	if len(inputs) == 0 {
		return nil
	}
	out := append([]string(nil), inputs[0].Sites...)
	for _, in := range inputs[1:] {
		out = keep(out, in.Sites)
	}
	return out
}

func keep(sites, allowed []string) []string {
	out := make([]string, 0, len(sites))
	for _, s := range sites {
		if contains(allowed, s) {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
