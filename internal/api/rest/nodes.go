package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/attributes"
	"github.com/KevinKickass/OdinBridge/internal/controller"
	"github.com/gin-gonic/gin"
)

type attributeView struct {
	attributes.Info
	Value     any        `json:"value"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type nodeView struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	APIPrefix  string   `json:"api_prefix"`
	Children   []string `json:"children,omitempty"`
	Attributes int      `json:"attributes"`
}

func viewAttribute(attr *attributes.Attribute) attributeView {
	value, updatedAt := attr.Get()
	view := attributeView{Info: attr.Info(), Value: value}
	if !updatedAt.IsZero() {
		view.UpdatedAt = &updatedAt
	}
	return view
}

func viewNode(node *controller.Controller) nodeView {
	view := nodeView{
		ID:         node.ID(),
		Label:      node.Label(),
		APIPrefix:  node.APIPrefix(),
		Attributes: node.Attributes().Len(),
	}
	for _, child := range node.Children() {
		view.Children = append(view.Children, child.ID())
	}
	return view
}

func (s *Server) findNode(c *gin.Context) (*controller.Controller, bool) {
	id := c.Param("node")
	node, ok := s.lm.Composer().Root().Find(id)
	if !ok {
		respondError(c, http.StatusNotFound, "NODE_404", "Node not found", gin.H{"node": id})
		return nil, false
	}
	return node, true
}

func (s *Server) findAttribute(c *gin.Context) (*attributes.Attribute, bool) {
	node, ok := s.findNode(c)
	if !ok {
		return nil, false
	}
	name := c.Param("name")
	attr, ok := node.Attributes().Get(name)
	if !ok {
		respondError(c, http.StatusNotFound, "ATTR_404", "Attribute not found", gin.H{
			"node": node.ID(),
			"name": name,
		})
		return nil, false
	}
	return attr, true
}

// GET /api/v1/nodes
func (s *Server) listNodes(c *gin.Context) {
	root := s.lm.Composer().Root()
	nodes := []nodeView{}
	for _, node := range root.Nodes() {
		if node == root {
			continue
		}
		nodes = append(nodes, viewNode(node))
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// GET /api/v1/nodes/:node
func (s *Server) getNode(c *gin.Context) {
	node, ok := s.findNode(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewNode(node))
}

// GET /api/v1/nodes/:node/attributes
func (s *Server) listAttributes(c *gin.Context) {
	node, ok := s.findNode(c)
	if !ok {
		return
	}
	attrs := node.Attributes().List()
	views := make([]attributeView, 0, len(attrs))
	for _, attr := range attrs {
		views = append(views, viewAttribute(attr))
	}
	c.JSON(http.StatusOK, gin.H{
		"node":       node.ID(),
		"attributes": views,
	})
}

// GET /api/v1/nodes/:node/attributes/:name
func (s *Server) getAttribute(c *gin.Context) {
	attr, ok := s.findAttribute(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewAttribute(attr))
}

// PUT /api/v1/nodes/:node/attributes/:name
func (s *Server) putAttribute(c *gin.Context) {
	attr, ok := s.findAttribute(c)
	if !ok {
		return
	}

	var req struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ATTR_400", "Invalid request body", err.Error())
		return
	}

	if err := attr.Put(c.Request.Context(), req.Value); err != nil {
		switch {
		case errors.Is(err, attributes.ErrReadOnly):
			respondError(c, http.StatusConflict, "ATTR_409", "Attribute is read-only", err.Error())
		case errors.Is(err, attributes.ErrInvalidValue):
			respondError(c, http.StatusBadRequest, "ATTR_400", "Invalid attribute value", err.Error())
		case errors.Is(err, attributes.ErrWriteRejected):
			respondError(c, http.StatusBadGateway, "ATTR_502", "Write rejected by adapter", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ATTR_500", "Failed to write attribute", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, viewAttribute(attr))
}
