package syncapi

import (
	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
)

// SnapshotFromVersion renders a snapshot version; tombstones become deleted=true.
func SnapshotFromVersion(version records.Version[records.Snapshot]) SnapshotDTO {
	snapshot := version.Ref()
	dto := SnapshotDTO{
		Date:       snapshot.Date.String(),
		CategoryID: snapshot.CategoryID.String(),
		UpdatedAt:  version.At(),
		Deleted:    version.Deleted(),
	}
	if live, ok := version.Live(); ok {
		dto.Amount = live.Amount
		if live.Memo != "" {
			memo := live.Memo
			dto.Memo = &memo
		}
	}
	return dto
}

// Version validates the DTO and returns the snapshot version it describes.
func (dto SnapshotDTO) Version() (records.Version[records.Snapshot], error) {
	date, err := records.NewDate(dto.Date)
	if err != nil {
		return records.Version[records.Snapshot]{}, err
	}
	categoryID, err := records.NewCategoryID(dto.CategoryID)
	if err != nil {
		return records.Version[records.Snapshot]{}, err
	}
	snapshot := records.Snapshot{Date: date, CategoryID: categoryID}
	if dto.Deleted {
		return records.Tombstone(snapshot, dto.UpdatedAt), nil
	}
	snapshot.Amount = dto.Amount
	if dto.Memo != nil {
		snapshot.Memo = *dto.Memo
	}
	return records.Active(snapshot, dto.UpdatedAt), nil
}

// CategoryFromVersion renders a category version; tombstones become deleted=true.
func CategoryFromVersion(version records.Version[records.Category]) CategoryDTO {
	category := version.Ref()
	return CategoryDTO{
		ID:        category.ID.String(),
		Name:      category.Name,
		Icon:      category.Icon,
		SortOrder: category.SortOrder,
		IsDefault: category.IsDefault,
		UpdatedAt: version.At(),
		Deleted:   version.Deleted(),
	}
}

// Version validates the DTO and returns the category version it describes.
func (dto CategoryDTO) Version() (records.Version[records.Category], error) {
	id, err := records.NewCategoryID(dto.ID)
	if err != nil {
		return records.Version[records.Category]{}, err
	}
	category := records.Category{
		ID:        id,
		Name:      dto.Name,
		Icon:      dto.Icon,
		SortOrder: dto.SortOrder,
		IsDefault: dto.IsDefault,
	}
	if dto.Deleted {
		return records.Tombstone(category, dto.UpdatedAt), nil
	}
	return records.Active(category, dto.UpdatedAt), nil
}
