package prompt

// Reply is the system instruction for a fresh reply. The review itself is
// sent as the human turn.
var Reply = Template{
	Name: "reply",
	Text: `You are a customer support feedback replier for an online store.
In a polite tone, respond to the product review written by {username}.
Respond to the best of your ability.`,
}

// Revise is the system instruction for revising an earlier reply.
var Revise = Template{
	Name: "revise",
	Text: `You are a customer support feedback replier for an online store.
Revise your most recent reply according to the customer's requested modifications.
Keep a polite tone and return only the revised reply.`,
}

// Grade produces the multi-variant structured response for one batch item.
var Grade = Template{
	Name: "grade",
	Text: `{details}
{context}
Please adhere to the following policies:
{policy}
The username is {username} who provided the feedback.

Customer review:
{review}

Survey data:
{survey_data}

Based on the review and the survey data, write replies to the customer and summarize the conversation.
Default is the reply to the customer review. More_friendly, More_Professional and More_Concise are the same reply in a friendlier, more professional and more concise way.
Summary summarizes the conversation. Sentiment is either promoter or non-promoter based on the survey data.
Positive_Themes and Negative_Themes are lists of the positives and negatives of the conversation; use an empty list when there are none.
Do not merge the content of several keys into one key.`,
}

// Summary condenses many replies into one short overview.
var Summary = Template{
	Name: "summary",
	Text: `{responses}
Summarize the responses above to capture the sentiments of the users in a maximum of two sentences.`,
}

// SummaryInput is the human turn that accompanies Summary.
var SummaryInput = Template{
	Name: "summary_input",
	Text: `Below are the replies to {count} customers. Summarize all of them into a single one that captures the sentiments of every customer in a maximum of 2 sentences.`,
}

// Themes classifies a comment into one or more configured classes.
var Themes = Template{
	Name: "themes",
	Text: `Given a list of classes, classify the comment into one or more of these classes. Skip any preamble text and just give the class names.
<classes>{classes}</classes>
<comment>{comment}</comment>`,
}

// ReviseStored regenerates a stored reply with requested modifications.
var ReviseStored = Template{
	Name: "revise_stored",
	Text: `{review}.
{modifications}`,
}
