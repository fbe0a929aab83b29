package vectorstore

import "github.com/qdrant/go-client/qdrant"

// buildFilter translates a structured Filters object into the store's filter
// dialect. Exact-match fields become equality predicates, the date range
// becomes a closed-interval range predicate on updated_at, and array fields
// become member-of predicates. Absent fields emit nothing.
func buildFilter(f *Filters) *qdrant.Filter {
	if f.Empty() {
		return nil
	}

	var must []*qdrant.Condition

	for key, value := range map[string]string{
		"type":   f.Type,
		"funder": f.Funder,
		"source": f.Source,
	} {
		if value != "" {
			must = append(must, keywordCondition(key, value))
		}
	}

	if f.Active != nil {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "active",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Boolean{Boolean: *f.Active},
					},
				},
			},
		})
	}

	if len(f.Tags) > 0 {
		must = append(must, keywordsCondition("tags", f.Tags))
	}
	if len(f.Categories) > 0 {
		must = append(must, keywordsCondition("categories", f.Categories))
	}

	if f.DateRange != nil {
		start := float64(f.DateRange.Start.Unix())
		end := float64(f.DateRange.End.Unix())
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "updated_at",
					Range: &qdrant.Range{
						Gte: &start,
						Lte: &end,
					},
				},
			},
		})
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// keywordCondition builds an exact-match predicate on a string field.
func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// keywordsCondition builds a member-of predicate on an array field.
func keywordsCondition(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}
