package manytomorph

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type Gallery struct {
	Slots
	ID     int
	Images []Image `morph:"-"`
	Cover  *Image  `morph:"-"`
}

func (Gallery) ImagesRelation() HasMany[Image] {
	return HasMany[Image]{ForeignKey: "album_id", Table: "gallery_images"}
}

func (Gallery) CoverRelation() BelongsTo[Image] {
	return BelongsTo[Image]{ForeignKey: "cover_image_id"}
}

func (Gallery) Photos() HasMany[Image] {
	return HasMany[Image]{}
}

type Image struct {
	ID      int
	AlbumID int
	Path    string
}

func TestGroupRelations(t *testing.T) {
	order, groups := groupRelations([]string{"Items.Author", "Items:id,question", "Tags", "Items.Author.Avatar"})

	if diff := cmp.Diff([]string{"Items", "Tags"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if groups["Items"].cols != "id,question" {
		t.Errorf("cols = %q", groups["Items"].cols)
	}
	if diff := cmp.Diff([]string{"Author", "Author.Avatar"}, groups["Items"].subs); diff != "" {
		t.Errorf("subs mismatch (-want +got):\n%s", diff)
	}
	if len(groups["Tags"].subs) != 0 {
		t.Errorf("Tags should have no nested relations")
	}
}

func TestRelationDescriptor_Defaults(t *testing.T) {
	info, err := ParseModel[FaqSection]()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := relationDescriptor(info, "Items")
	if err != nil {
		t.Fatal(err)
	}
	if rel.kind != RelationHasMany || rel.table != "faq_section_items" || rel.foreignKey != "faq_section_id" || rel.localKey != "id" {
		t.Errorf("unexpected has-many defaults %+v", rel)
	}

	itemInfo, _ := ParseModel[FaqSectionItem]()
	rel, err = relationDescriptor(itemInfo, "Author")
	if err != nil {
		t.Fatal(err)
	}
	if rel.kind != RelationBelongsTo || rel.table != "authors" || rel.foreignKey != "author_id" || rel.ownerKey != "id" {
		t.Errorf("unexpected belongs-to defaults %+v", rel)
	}
}

func TestRelationDescriptor_Overrides(t *testing.T) {
	info, _ := ParseModel[Gallery]()

	rel, err := relationDescriptor(info, "Images")
	if err != nil {
		t.Fatal(err)
	}
	if rel.table != "gallery_images" || rel.foreignKey != "album_id" {
		t.Errorf("overrides ignored: %+v", rel)
	}

	rel, err = relationDescriptor(info, "Cover")
	if err != nil {
		t.Fatal(err)
	}
	if rel.foreignKey != "cover_image_id" || rel.ownerKey != "id" {
		t.Errorf("overrides ignored: %+v", rel)
	}

	rel, err = relationDescriptor(info, "Photos")
	if err != nil {
		t.Fatal(err)
	}
	if rel.table != "images" || rel.foreignKey != "gallery_id" {
		t.Errorf("unexpected defaults: %+v", rel)
	}

	_, err = relationDescriptor(info, "Owner")
	if !errors.Is(err, ErrRelationNotFound) {
		t.Errorf("expected ErrRelationNotFound, got %v", err)
	}
}
