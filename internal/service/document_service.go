package service

import (
	"quillsync/internal/domain"
	"quillsync/internal/repository"
)

type DocumentService struct {
	repo repository.DocumentRepository
}

func NewDocumentService(repo repository.DocumentRepository) *DocumentService {
	return &DocumentService{repo: repo}
}

func (s *DocumentService) Create(req *domain.CreateDocumentRequest) (*domain.DocumentInfo, error) {
	doc, err := s.repo.Create(req.ID, req.Text)
	if err != nil {
		return nil, err
	}
	return &domain.DocumentInfo{
		ID:        doc.ID(),
		Revision:  doc.Revision(),
		CreatedAt: doc.CreatedAt(),
	}, nil
}

func (s *DocumentService) List() ([]*domain.DocumentInfo, error) {
	docs := s.repo.List()
	infos := make([]*domain.DocumentInfo, len(docs))
	for i, doc := range docs {
		infos[i] = &domain.DocumentInfo{
			ID:        doc.ID(),
			Revision:  doc.Revision(),
			CreatedAt: doc.CreatedAt(),
		}
	}
	return infos, nil
}

func (s *DocumentService) Get(id string) (*domain.DocumentSnapshot, error) {
	doc, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	text, revision := doc.Snapshot()
	return &domain.DocumentSnapshot{
		ID:       doc.ID(),
		Text:     text,
		Revision: revision,
	}, nil
}
