package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lingodoc/lingodoc/internal/blob"
	"github.com/lingodoc/lingodoc/internal/notify"
	"github.com/lingodoc/lingodoc/internal/store"
	"github.com/lingodoc/lingodoc/pkg/log"
)

const anchorIDAttr = "data-anchor-id"

// bundleChunk is one entry of the chunk bundle artifact, the review-facing
// side-by-side record of every chunk.
type bundleChunk struct {
	Order        int      `json:"order"`
	ChunkID      string   `json:"chunk_id"`
	SourceHTML   string   `json:"source_html"`
	MachineHTML  string   `json:"machine_html,omitempty"`
	ReviewerHTML string   `json:"reviewer_html,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	AnchorIDs    []string `json:"anchor_ids,omitempty"`
}

func (o *Orchestrator) handleAssemble(ctx context.Context, jobID string) error {
	job, proceed, err := o.checkpoint(ctx, jobID, "assemble")
	if err != nil || !proceed {
		return err
	}

	// Completion is re-verified here rather than trusted from the signal;
	// a requeued chunk may have failed since the signal was published.
	progress, err := o.store.ChunkProgress(ctx, jobID)
	if err != nil {
		return WrapError(err, ErrStorage, "read chunk progress")
	}
	if progress.Total == 0 || progress.Completed != progress.Total {
		log.Debug("Job %s not ready to assemble (%d/%d chunks), dropping signal",
			jobID, progress.Completed, progress.Total)
		return nil
	}

	chunks, err := o.store.ListChunks(ctx, jobID)
	if err != nil {
		return WrapError(err, ErrStorage, "list chunks")
	}

	bundleKey, err := o.writeBundle(jobID, chunks)
	if err != nil {
		return err
	}

	assembled, err := o.assembleDocument(ctx, job, chunks, false)
	if err != nil {
		return err
	}
	assembledKey := blob.ArtifactKey(jobID, "translated.html")
	if err := o.blobs.Put(assembledKey, []byte(assembled)); err != nil {
		return WrapError(err, ErrStorage, "store assembled document")
	}

	now := time.Now()
	job.BundleKey = bundleKey
	job.AssembledKey = assembledKey
	job.TranslatedAt = &now
	job.ProcessedChunks = progress.Completed
	job.FailedChunks = progress.Failed
	job.Status = store.JobReadyForReview
	job.UpdatedAt = now
	if err := o.store.UpsertJob(ctx, job); err != nil {
		return WrapError(err, ErrStorage, "mark job ready for review")
	}

	o.logEvent(ctx, jobID, "lifecycle", "assemble", "job_assembled", "ok",
		fmt.Sprintf("%d chunks assembled", len(chunks)), "")
	o.sendNotification(ctx, job, notify.EventReadyForReview, "machine translation complete")
	return nil
}

func (o *Orchestrator) writeBundle(jobID string, chunks []*store.Chunk) (string, error) {
	bundle := make([]bundleChunk, 0, len(chunks))
	for _, chunk := range chunks {
		bundle = append(bundle, bundleChunk{
			Order:        chunk.Order,
			ChunkID:      chunk.ChunkID,
			SourceHTML:   chunk.SourceHTML,
			MachineHTML:  chunk.MachineHTML,
			ReviewerHTML: chunk.ReviewerHTML,
			Provider:     chunk.Provider,
			Model:        chunk.Model,
			AnchorIDs:    chunk.AnchorIDs,
		})
	}
	encoded, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", WrapError(err, ErrStorage, "encode chunk bundle")
	}

	key := blob.ArtifactKey(jobID, "bundle.json")
	if err := o.blobs.Put(key, encoded); err != nil {
		return "", WrapError(err, ErrStorage, "store chunk bundle")
	}
	return key, nil
}

// assembleDocument stitches chunks back into a full HTML document and
// materializes every anchor into a real figure. preferReviewer selects the
// reviewer text over the machine text where both exist.
func (o *Orchestrator) assembleDocument(ctx context.Context, job *store.Job, chunks []*store.Chunk, preferReviewer bool) (string, error) {
	assets, err := o.store.ListAssets(ctx, job.ID)
	if err != nil {
		return "", WrapError(err, ErrStorage, "list assets")
	}
	anchors, err := o.store.ListAnchors(ctx, job.ID)
	if err != nil {
		return "", WrapError(err, ErrStorage, "list anchors")
	}

	assetsByHash := make(map[string]*store.Asset, len(assets))
	for _, asset := range assets {
		assetsByHash[asset.Hash] = asset
	}
	anchorsByID := make(map[string]*store.Anchor, len(anchors))
	for _, anchor := range anchors {
		anchorsByID[anchor.AnchorID] = anchor
	}

	var body strings.Builder
	for _, chunk := range chunks {
		markup := chunkOutput(chunk, preferReviewer)
		materialized, err := o.materializeAnchors(markup, anchorsByID, assetsByHash)
		if err != nil {
			return "", WrapError(err, ErrParse, "materialize anchors").WithContext("order", chunk.Order)
		}
		body.WriteString(materialized)
		body.WriteByte('\n')
	}

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	doc.WriteString(job.HeadHTML)
	doc.WriteString("\n</head>\n<body>\n")
	doc.WriteString(body.String())
	doc.WriteString("</body>\n</html>\n")
	return doc.String(), nil
}

// chunkOutput picks the text layer for assembly: reviewer over machine over
// source, so an untouched chunk still renders.
func chunkOutput(chunk *store.Chunk, preferReviewer bool) string {
	if preferReviewer && chunk.ReviewerHTML != "" {
		return chunk.ReviewerHTML
	}
	if chunk.MachineHTML != "" {
		return chunk.MachineHTML
	}
	return chunk.SourceHTML
}

// materializeAnchors swaps each anchor placeholder for the real image
// markup. Anchors without a known asset are dropped rather than rendered as
// empty spans.
func (o *Orchestrator) materializeAnchors(fragment string, anchors map[string]*store.Anchor, assets map[string]*store.Asset) (string, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return "", err
	}

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		child := node.FirstChild
		for child != nil {
			next := child.NextSibling
			walk(child)
			if id := attrValue(child, anchorIDAttr); id != "" {
				if replacement := o.assetNode(anchors[id], assets); replacement != nil {
					node.InsertBefore(replacement, child)
				}
				node.RemoveChild(child)
			}
			child = next
		}
	}

	var sb strings.Builder
	for _, node := range nodes {
		walk(node)
		if id := attrValue(node, anchorIDAttr); id != "" {
			if replacement := o.assetNode(anchors[id], assets); replacement != nil {
				if err := html.Render(&sb, replacement); err != nil {
					return "", err
				}
			}
			continue
		}
		if err := html.Render(&sb, node); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// assetNode builds the rendered markup for one anchor: an img, wrapped in a
// figure with a figcaption when the asset has a caption.
func (o *Orchestrator) assetNode(anchor *store.Anchor, assets map[string]*store.Asset) *html.Node {
	if anchor == nil {
		return nil
	}
	asset, ok := assets[anchor.AssetHash]
	if !ok {
		log.Warn("Anchor %s references unknown asset %s", anchor.AnchorID, anchor.AssetHash)
		return nil
	}

	src := asset.SourceURL
	if src == "" {
		data, found, err := o.blobs.Get(asset.StorageKey)
		if err != nil || !found {
			log.Warn("Asset %s bytes unavailable (key %s): %v", asset.Hash, asset.StorageKey, err)
			return nil
		}
		src = "data:" + asset.MediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}

	img := &html.Node{Type: html.ElementNode, Data: "img", DataAtom: atom.Img}
	img.Attr = append(img.Attr, html.Attribute{Key: "src", Val: src})
	if asset.AltText != "" {
		img.Attr = append(img.Attr, html.Attribute{Key: "alt", Val: asset.AltText})
	}
	var styles []string
	if anchor.WidthPx > 0 {
		styles = append(styles, fmt.Sprintf("width:%dpx", anchor.WidthPx))
	}
	switch anchor.Alignment {
	case "left", "right":
		styles = append(styles, "float:"+anchor.Alignment)
	case "center":
		styles = append(styles, "display:block", "margin-left:auto", "margin-right:auto")
	}
	if len(styles) > 0 {
		img.Attr = append(img.Attr, html.Attribute{Key: "style", Val: strings.Join(styles, ";")})
	}

	caption := anchor.CaptionRef
	if caption == "" {
		caption = asset.Caption
	}
	if caption == "" {
		return img
	}

	figure := &html.Node{Type: html.ElementNode, Data: "figure", DataAtom: atom.Figure}
	figure.AppendChild(img)
	figcaption := &html.Node{Type: html.ElementNode, Data: "figcaption", DataAtom: atom.Figcaption}
	figcaption.AppendChild(&html.Node{Type: html.TextNode, Data: caption})
	figure.AppendChild(figcaption)
	return figure
}

func attrValue(node *html.Node, key string) string {
	if node.Type != html.ElementNode {
		return ""
	}
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
